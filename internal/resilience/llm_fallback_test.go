package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/didata-ai/didata/pkg/provider/llm"
	llmmock "github.com/didata-ai/didata/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		wantContent   string
		wantAllFailed bool
	}{
		{"primary success", nil, nil, "primary", false},
		{"failover", errors.New("primary down"), nil, "secondary", false},
		{"all fail", errors.New("primary down"), errors.New("secondary down"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "secondary"},
				CompleteErr:      tt.secondaryErr,
			}
			fb := NewLLMFallback(primary, "gemini", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fb.AddFallback("openai", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
			if tt.wantAllFailed {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v; want ErrAllFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Fatalf("Content = %q; want %q", resp.Content, tt.wantContent)
			}
			if tt.primaryErr == nil && len(secondary.Calls()) != 0 {
				t.Fatal("secondary called although primary succeeded")
			}
		})
	}
}

func TestLLMFallback_FallbackUsesOwnModel(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	fb := NewLLMFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{Model: "gemini-3-pro-preview", Prompt: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := primary.Calls()[0].Req.Model; got != "gemini-3-pro-preview" {
		t.Fatalf("primary model = %q; want pinned model", got)
	}
	if got := secondary.Calls()[0].Req.Model; got != "" {
		t.Fatalf("fallback model = %q; want empty", got)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 1_048_576, SupportsThinking: true}}
	fb := NewLLMFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", &llmmock.Provider{})

	caps := fb.Capabilities()
	if caps.ContextWindow != 1_048_576 || !caps.SupportsThinking {
		t.Fatalf("Capabilities = %+v; want primary's", caps)
	}
	if len(fb.States()) != 2 {
		t.Fatalf("States() = %v; want 2 entries", fb.States())
	}
}
