// Command didata is the Didata voice tutor: it generates courses from source
// text, runs live spoken lessons against a realtime model and keeps the
// conversation history.
//
// Usage:
//
//	didata [-config didata.yaml] <command> [flags] [args]
//
// Run "didata help" for the command list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/didata-ai/didata/internal/app"
	"github.com/didata-ai/didata/internal/config"
	"github.com/didata-ai/didata/internal/observe"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "didata.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── Global flags ───────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("didata", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "path to the YAML configuration file")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if name == "help" || name == "-h" {
		usage(stdout)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "didata: unknown command %q\n\n", name)
		usage(stderr)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "didata: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(stderr, level)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "didata",
		ServiceVersion: version,
		Registerer:     registry,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
		shutdownOTel = func(context.Context) error { return nil }
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	var providers *app.Providers
	if cmd.providers != noProviders {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		providers, err = app.BuildProviders(cfg, reg, metrics, logger)
		switch {
		case err != nil && cmd.providers == requiredProviders:
			slog.Error("failed to build providers", "err", err)
			return 1
		case err != nil:
			slog.Debug("continuing without providers", "err", err)
		}
	}

	env := &env{
		cfg:        cfg,
		configPath: *configPath,
		stdout:     stdout,
		providers:  providers,
		opts: []app.Option{
			app.WithLogger(logger),
			app.WithLevelVar(level),
			app.WithMetrics(metrics),
			app.WithGatherer(registry),
			app.WithVersion(version),
		},
	}

	code := 0
	if err := cmd.run(ctx, env, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "didata %s: %v\n", name, err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if env.app != nil {
		if err := env.app.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
			code = 1
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		slog.Debug("telemetry shutdown", "err", err)
	}
	return code
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads path. A missing file at the default path yields the
// default configuration; any other missing path is an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: didata [-config didata.yaml] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
}
