package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/didata-ai/didata/internal/config"
	"github.com/didata-ai/didata/internal/health"
	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/internal/resilience"
	"github.com/didata-ai/didata/pkg/provider/llm"
)

// BuildProviders instantiates the configured text and live backends through
// reg. Each kind becomes a fallback chain: the primary entry followed by the
// configured fallbacks, each behind its own circuit breaker. Entries that fail
// to construct are logged and skipped; a kind with no usable entry is left
// nil. Audio devices are not touched.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ps := &Providers{}

	textEntries := append([]config.ProviderEntry{cfg.Providers.Text}, cfg.Providers.TextFallbacks...)
	texts := create(textEntries, "text", reg.CreateText, logger)
	if len(texts) > 0 {
		fb := resilience.NewLLMFallback(texts[0].p, texts[0].name, resilience.FallbackConfig{
			Kind:    "llm",
			Logger:  logger,
			Metrics: m,
		})
		for _, t := range texts[1:] {
			fb.AddFallback(t.name, t.p)
		}
		ps.Text = withTimeout(fb, cfg.Providers.TextTimeout)
		ps.Checks = append(ps.Checks, health.Breakers("text", fb.States))
	}

	liveEntries := append([]config.ProviderEntry{cfg.Providers.Live}, cfg.Providers.LiveFallbacks...)
	lives := create(liveEntries, "live", reg.CreateLive, logger)
	if len(lives) > 0 {
		fb := resilience.NewS2SFallback(lives[0].p, lives[0].name, resilience.FallbackConfig{
			Kind:    "s2s",
			Logger:  logger,
			Metrics: m,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures: 3,
				HalfOpenMax: 1,
			},
		})
		for _, l := range lives[1:] {
			fb.AddFallback(l.name, l.p)
		}
		ps.Live = fb
		ps.Checks = append(ps.Checks, health.Breakers("live", fb.States))
	}

	if ps.Text == nil && ps.Live == nil {
		return nil, errors.New("app: no text or live provider could be created")
	}
	return ps, nil
}

type named[P any] struct {
	name string
	p    P
}

func create[P any](entries []config.ProviderEntry, kind string, factory func(config.ProviderEntry) (P, error), logger *slog.Logger) []named[P] {
	var out []named[P]
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		p, err := factory(e)
		if err != nil {
			logger.Warn("provider skipped", "kind", kind, "name", e.Name, "err", err)
			continue
		}
		label := e.Name
		if e.Model != "" {
			label = e.Name + "/" + e.Model
		}
		out = append(out, named[P]{name: label, p: p})
		logger.Info("provider created", "kind", kind, "name", label)
	}
	return out
}

// timeoutProvider bounds every Complete call.
type timeoutProvider struct {
	llm.Provider
	timeout time.Duration
}

func withTimeout(p llm.Provider, d time.Duration) llm.Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

func (t *timeoutProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resp, err := t.Provider.Complete(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("app: text request exceeded %v: %w", t.timeout, err)
	}
	return resp, err
}

var _ llm.Provider = (*timeoutProvider)(nil)
