package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/didata-ai/didata/internal/health"
	"github.com/didata-ai/didata/internal/observe"
)

const adminShutdownTimeout = 5 * time.Second

// AdminHandler serves /healthz, /readyz (storage and provider checks) and
// /metrics, wrapped in the tracing middleware.
func (a *App) AdminHandler() http.Handler {
	checks := append(append([]health.Checker(nil), a.checks...), a.providers.Checks...)
	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	return observe.Middleware(a.metrics)(mux)
}

// ServeAdmin listens on server.admin_addr until ctx is done. It returns nil
// immediately when no address is configured.
func (a *App) ServeAdmin(ctx context.Context) error {
	addr := a.cfg.Server.AdminAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.serveAdmin(ctx, ln)
}

func (a *App) serveAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := a.logger.With("component", "admin", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("admin server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), adminShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
