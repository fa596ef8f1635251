package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/helpdesk/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name, provider, model string
	}{
		{"empty provider", "", "llama-3.1-8b-instant"},
		{"empty model", "groq", ""},
		{"unsupported provider", "fakecloud", "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		provider string
		opts     []anyllmlib.Option
	}{
		{"groq", []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}},
		{"GROQ", []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}},
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(tt.provider, "some-model", tt.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.provider, err)
			}
			want := strings.ToLower(tt.provider) + "/some-model"
			if p.ModelID() != want {
				t.Errorf("ModelID = %q, want %q", p.ModelID(), want)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{name: "groq", model: "llama-3.1-8b-instant"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are an IT help desk assistant.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "My VPN drops."}},
		Temperature:  0.3,
		MaxTokens:    512,
	})

	if params.Model != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are an IT help desk assistant." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != llm.RoleUser || params.Messages[1].ContentString() != "My VPN drops." {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if len(bare.Messages) != 1 || bare.Temperature != nil || bare.MaxTokens != nil {
		t.Errorf("bare params = %+v", bare)
	}
}
