package mcpserver

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/knowledge"
	"github.com/MrWong99/helpdesk/internal/pipeline"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings/hashing"
	"github.com/MrWong99/helpdesk/pkg/types"
)

func newSession(t *testing.T, evalSet []pipeline.LabeledRequest) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	tbl, err := category.Default()
	if err != nil {
		t.Fatalf("category.Default: %v", err)
	}
	corpus, err := knowledge.Load(knowledge.DefaultChunker(), true)
	if err != nil {
		t.Fatalf("knowledge.Load: %v", err)
	}
	emb, err := hashing.New()
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.New(ctx, pipeline.DefaultConfig(), pipeline.Sources{
		Embeddings: emb,
		Categories: tbl,
		Chunks:     corpus.Chunks(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	srv := New(p, "test", evalSet)
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// call invokes a tool and decodes its JSON text content into out.
func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError || out == nil {
		return res
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s): no content", name)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): content is %T, want text", name, res.Content[0])
	}
	if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
		t.Fatalf("CallTool(%s): decode %q: %v", name, tc.Text, err)
	}
	return res
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs := newSession(t, nil)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{"classify_request", "decide_escalation", "evaluate", "retrieve_knowledge"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestClassifyRequest(t *testing.T) {
	t.Parallel()
	cs := newSession(t, nil)

	var got classifyResult
	call(t, cs, "classify_request", map[string]any{"request": "I forgot my password and need to reset it"}, &got)
	if got.Category != "password_reset" || got.Label == "" {
		t.Errorf("result = %+v, want password_reset with a label", got)
	}

	res := call(t, cs, "classify_request", map[string]any{"request": "   "}, nil)
	if !res.IsError {
		t.Error("blank request: want tool error")
	}
}

func TestRetrieveKnowledge(t *testing.T) {
	t.Parallel()
	cs := newSession(t, nil)

	tests := []struct {
		name    string
		args    map[string]any
		max     int
		wantErr bool
	}{
		{"default k", map[string]any{"request": "how do I reset my password"}, pipeline.DefaultConfig().RetrievalKDefault, false},
		{"k", map[string]any{"request": "how do I reset my password", "k": 1}, 1, false},
		{"category", map[string]any{"request": "install software", "k": 2, "category": "software_installation"}, 2, false},
		{"bad category", map[string]any{"request": "vpn", "category": "coffee"}, 0, true},
		{"zero k", map[string]any{"request": "vpn", "k": 0}, 0, true},
		{"negative k", map[string]any{"request": "vpn", "k": -2}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got retrieveResult
			res := call(t, cs, "retrieve_knowledge", tt.args, &got)
			if res.IsError != tt.wantErr {
				t.Fatalf("IsError = %v, want %v", res.IsError, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got.Passages) == 0 || len(got.Passages) > tt.max {
				t.Errorf("got %d passages, want 1..%d", len(got.Passages), tt.max)
			}
		})
	}
}

func TestDecideEscalation(t *testing.T) {
	t.Parallel()
	cs := newSession(t, nil)

	tests := []struct {
		name     string
		args     map[string]any
		required bool
		reason   types.EscalationReason
	}{
		{"routine", map[string]any{"category": "password_reset", "confidence": 0.9, "request": "reset my password"}, false, types.ReasonNone},
		{"forced", map[string]any{"category": "hardware_failure", "confidence": 0.9, "request": "broken screen"}, true, types.ReasonCategoryForced},
		{"urgent", map[string]any{"category": "email_configuration", "confidence": 0.9, "request": "outlook broke, this is an emergency"}, true, types.ReasonUrgencyKeyword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got escalationResult
			call(t, cs, "decide_escalation", tt.args, &got)
			if got.Required != tt.required || got.Reason != string(tt.reason) {
				t.Errorf("result = %+v, want required=%v reason=%s", got, tt.required, tt.reason)
			}
			if got.Required == (got.Contact == "") {
				t.Errorf("contact %q inconsistent with required=%v", got.Contact, got.Required)
			}
		})
	}
}

func TestDecideEscalation_ConfidenceRange(t *testing.T) {
	t.Parallel()
	cs := newSession(t, nil)

	for _, c := range []float64{1.5, -3} {
		res := call(t, cs, "decide_escalation", map[string]any{"category": "password_reset", "confidence": c, "request": "reset my password"}, nil)
		if !res.IsError {
			t.Errorf("confidence %v: want tool error", c)
		}
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	cs := newSession(t, []pipeline.LabeledRequest{
		{Text: "I forgot my password", Category: types.PasswordReset},
	})

	var got evaluateResult
	call(t, cs, "evaluate", map[string]any{}, &got)
	if got.Total != 1 {
		t.Errorf("Total = %d, want 1 from the configured set", got.Total)
	}

	call(t, cs, "evaluate", map[string]any{"requests": []map[string]any{
		{"request": "reset my password", "category": "password_reset"},
		{"request": "my laptop will not turn on", "category": "hardware_failure", "escalate": true},
	}}, &got)
	if got.Total != 2 {
		t.Errorf("Total = %d, want 2 from the arguments", got.Total)
	}
	if got.Accuracy < 0 || got.Accuracy > 1 {
		t.Errorf("Accuracy = %v", got.Accuracy)
	}

	res := call(t, cs, "evaluate", map[string]any{"requests": []map[string]any{{"request": "x", "category": "coffee"}}}, nil)
	if !res.IsError {
		t.Error("unknown category: want tool error")
	}
}
