package anyllm

import (
	"context"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicechat/pkg/provider/llm"
)

// ── params ────────────────────────────────────────────────────────────────────

// TestParams_SystemPromptFirst checks that the system prompt precedes the history.
func TestParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "You are a helpful voice assistant.",
		Messages: []llm.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "what time is it?"},
		},
	})
	if params.Model != "llama3.2" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[3].ContentString() != "what time is it?" {
		t.Errorf("last content = %q", params.Messages[3].ContentString())
	}
}

// TestParams_OptionalFields checks that zero values leave options unset.
func TestParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("temperature=%v maxTokens=%v, want nil", params.Temperature, params.MaxTokens)
	}

	params = p.params(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "x"}},
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("maxTokens = %v", params.MaxTokens)
	}
}

// TestComplete_EmptyMessages checks that an empty request is rejected locally.
func TestComplete_EmptyMessages(t *testing.T) {
	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_Validation checks argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestSupported_SortedAndComplete(t *testing.T) {
	if !slices.IsSorted(Supported) {
		t.Errorf("Supported not sorted: %v", Supported)
	}
	if len(Supported) != len(backends) {
		t.Errorf("Supported has %d names, backends %d", len(Supported), len(backends))
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY being cleared.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestNew_Backends checks that keyless and keyed backends construct.
func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  []anyllmlib.Option
	}{
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q", p.model)
			}
		})
	}
}
