package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings/hashing"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings/mock"
	"github.com/MrWong99/helpdesk/pkg/types"
)

// twoCategoryTable returns a table with one exemplar each for password_reset
// and hardware_failure. Every other category has no exemplars.
func twoCategoryTable(t *testing.T) *category.Table {
	t.Helper()
	entries := make([]category.Entry, 0, len(types.Categories()))
	for _, c := range types.Categories() {
		e := category.Entry{ID: c, Contact: c.String() + "@example.com"}
		switch c {
		case types.PasswordReset:
			e.Exemplars = []string{"reset my password"}
		case types.HardwareFailure:
			e.Exemplars = []string{"laptop is broken"}
		}
		entries = append(entries, e)
	}
	tbl, err := category.NewTable(entries)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

// planeProvider places the exemplars on the x and y axes of a 2-D space.
func planeProvider() *mock.Provider {
	return &mock.Provider{
		Vectors: map[string][]float32{
			"reset my password": {1, 0},
			"laptop is broken":  {0, 1},
		},
		Default:         []float32{1, 0},
		DimensionsValue: 2,
		ModelIDValue:    "plane",
	}
}

func newPlaneClassifier(t *testing.T, p *mock.Provider, opts ...Option) *Classifier {
	t.Helper()
	c, err := New(context.Background(), p, twoCategoryTable(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Reset()
	return c
}

func TestNew_EmbedsExemplarsInOneBatch(t *testing.T) {
	t.Parallel()
	p := planeProvider()
	c, err := New(context.Background(), p, twoCategoryTable(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(p.EmbedBatchCalls) != 1 || len(p.EmbedCalls) != 0 {
		t.Fatalf("calls: batch=%d single=%d, want 1 batch", len(p.EmbedBatchCalls), len(p.EmbedCalls))
	}
	if got := len(p.EmbedBatchCalls[0].Texts); got != 2 {
		t.Errorf("batch size = %d, want 2", got)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       *mock.Provider
		opts    []Option
		wantErr error
	}{
		{"provider down", &mock.Provider{Err: errors.New("connection refused")}, nil, types.ErrEmbeddingUnavailable},
		{"zero scale", planeProvider(), []Option{WithDistanceScale(0)}, types.ErrInvalidArgument},
		{"min confidence above one", planeProvider(), []Option{WithMinConfidence(1.5)}, types.ErrInvalidArgument},
		{"zero vector exemplar", &mock.Provider{Default: []float32{0, 0}, DimensionsValue: 2}, nil, types.ErrInvalidEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(context.Background(), tt.p, twoCategoryTable(t), tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		vec          []float32
		wantCategory types.Category
		wantNearest  types.Category
		wantFallback bool
		wantConf     float64
	}{
		{"exact password", []float32{1, 0}, types.PasswordReset, types.PasswordReset, false, 1},
		{"exact hardware", []float32{0, 1}, types.HardwareFailure, types.HardwareFailure, false, 1},
		// 45 degrees off both axes: distance 1-cos(45°) ≈ 0.293, ties go
		// to the lower entry ID, which is the password exemplar.
		{"diagonal", []float32{1, 1}, types.PasswordReset, types.PasswordReset, false, 0.7071},
		// Facing away from both exemplars: distance above 1, confidence 0.
		{"far away", []float32{-1, -1}, types.GeneralInquiry, types.PasswordReset, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := planeProvider()
			p.Vectors["request"] = tt.vec
			c := newPlaneClassifier(t, p)

			res, err := c.Classify(context.Background(), "request")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if res.Category != tt.wantCategory || res.Nearest != tt.wantNearest || res.Fallback != tt.wantFallback {
				t.Errorf("result = %+v, want category=%v nearest=%v fallback=%v", res, tt.wantCategory, tt.wantNearest, tt.wantFallback)
			}
			if d := res.Confidence - tt.wantConf; d > 1e-3 || d < -1e-3 {
				t.Errorf("Confidence = %.4f, want %.4f", res.Confidence, tt.wantConf)
			}
		})
	}
}

func TestClassify_BlankTextSkipsProvider(t *testing.T) {
	t.Parallel()
	p := planeProvider()
	c := newPlaneClassifier(t, p)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Classify(context.Background(), text)
		if !errors.Is(err, types.ErrEmptyRequest) {
			t.Errorf("Classify(%q) err = %v, want ErrEmptyRequest", text, err)
		}
	}
	if p.Calls() != 0 {
		t.Errorf("provider called %d times for blank input", p.Calls())
	}
}

func TestClassify_ProviderErrors(t *testing.T) {
	t.Parallel()

	t.Run("unavailable", func(t *testing.T) {
		t.Parallel()
		p := planeProvider()
		c := newPlaneClassifier(t, p)
		p.Err = errors.New("503 from upstream")

		_, err := c.Classify(context.Background(), "hello")
		if !errors.Is(err, types.ErrEmbeddingUnavailable) {
			t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
		}
		if len(p.EmbedCalls) != 1 {
			t.Errorf("Embed called %d times, want exactly 1 (no retry)", len(p.EmbedCalls))
		}
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()
		p := planeProvider()
		c := newPlaneClassifier(t, p)
		p.Delay = time.Second

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := c.Classify(ctx, "hello")
		if !errors.Is(err, types.ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})
}

func TestClassifyVector_DimensionMismatch(t *testing.T) {
	t.Parallel()
	c := newPlaneClassifier(t, planeProvider())
	_, err := c.ClassifyVector(context.Background(), []float32{1, 0, 0})
	if !errors.Is(err, types.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestConfidence_Monotonic(t *testing.T) {
	t.Parallel()
	for _, scale := range []float64{0.5, 1, 2} {
		c := newPlaneClassifier(t, planeProvider(), WithDistanceScale(scale))
		if got := c.Confidence(0); got != 1 {
			t.Errorf("scale %v: Confidence(0) = %v, want 1", scale, got)
		}
		prev := 1.0
		for d := 0.0; d <= 2.5; d += 0.05 {
			got := c.Confidence(d)
			if got < 0 || got > 1 {
				t.Fatalf("scale %v: Confidence(%v) = %v out of range", scale, d, got)
			}
			if got > prev {
				t.Fatalf("scale %v: Confidence(%v) = %v > previous %v", scale, d, got, prev)
			}
			prev = got
		}
	}
}

func TestClassify_MinConfidenceBoundary(t *testing.T) {
	t.Parallel()
	p := planeProvider()
	p.Vectors["diag"] = []float32{1, 1}

	// Confidence at 45° is about 0.707.
	below := newPlaneClassifier(t, p, WithMinConfidence(0.7))
	res, err := below.Classify(context.Background(), "diag")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fallback {
		t.Errorf("min 0.7: unexpected fallback, confidence %.4f", res.Confidence)
	}

	above := newPlaneClassifier(t, p, WithMinConfidence(0.75))
	res, err = above.Classify(context.Background(), "diag")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback || res.Category != types.GeneralInquiry || res.Nearest != types.PasswordReset {
		t.Errorf("min 0.75: result = %+v, want fallback to general_inquiry", res)
	}
}

func TestClassify_DefaultTable(t *testing.T) {
	t.Parallel()
	tbl, err := category.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	p, err := hashing.New()
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(context.Background(), p, tbl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		text string
		want types.Category
	}{
		{"I forgot my password and need to reset it", types.PasswordReset},
		{"my laptop won't turn on", types.HardwareFailure},
	}
	for _, tt := range tests {
		first, err := c.Classify(context.Background(), tt.text)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tt.text, err)
		}
		if first.Category != tt.want {
			t.Errorf("Classify(%q) = %v (conf %.3f), want %v", tt.text, first.Category, first.Confidence, tt.want)
		}
		again, err := c.Classify(context.Background(), tt.text)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Errorf("Classify(%q) not deterministic: %+v vs %+v", tt.text, first, again)
		}
	}
}
