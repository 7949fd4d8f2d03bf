package resilience

import (
	"context"

	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// S2SFallback implements [s2s.Provider] with failover on Connect. Only the
// dial is protected; once a session is open its failures belong to the
// caller.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred
// backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	if cfg.Kind == "" {
		cfg.Kind = "s2s"
	}
	return &S2SFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another live backend.
func (f *S2SFallback) AddFallback(name string, provider s2s.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect dials the first healthy backend.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	return ExecuteWithResult(ctx, f.group, func(p s2s.Provider) (s2s.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary's capabilities.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}

// States reports each backend's breaker state.
func (f *S2SFallback) States() map[string]State {
	return f.group.States()
}
