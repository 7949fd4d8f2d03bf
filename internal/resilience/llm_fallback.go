package resilience

import (
	"context"

	"github.com/didata-ai/didata/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a chain of text backends, each
// behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend tried after the existing ones.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend.
//
// A request pinned to a model (req.Model) is only meaningful for the backend
// that serves that model, so fallbacks receive the request with Model
// cleared and use their own default.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	primary := f.group.Primary()
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		r := req
		if p != primary {
			r.Model = ""
		}
		return p.Complete(ctx, r)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// States reports each backend's breaker state.
func (f *LLMFallback) States() map[string]State {
	return f.group.States()
}
