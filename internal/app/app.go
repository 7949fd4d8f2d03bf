// Package app wires the Didata subsystems into a running tutor.
//
// The App struct owns the full lifecycle: New opens storage, loads settings
// and builds the text, audio and live controllers; the tutor methods back the
// CLI subcommands; RunLive drives a voice session; Shutdown tears everything
// down in order.
//
// For testing, inject in-memory stores via functional options
// (WithSessionStore, WithCourseRepository, WithKV). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/internal/archive/postgres"
	redkv "github.com/didata-ai/didata/internal/archive/redis"
	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/internal/config"
	"github.com/didata-ai/didata/internal/course"
	"github.com/didata-ai/didata/internal/health"
	"github.com/didata-ai/didata/internal/live"
	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/internal/settings"
	"github.com/didata-ai/didata/internal/textgen"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/provider/llm"
	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// Providers holds the remote backends and local audio devices. Nil fields
// disable the features that need them: without Text no course, lesson or
// search generation; without Live, Mic or Output no voice session.
type Providers struct {
	Live   s2s.Provider
	Text   llm.Provider
	Mic    audio.Microphone
	Output audioio.OutputFactory

	// Checks are readiness probes for the providers (circuit breaker state).
	Checks []health.Checker
}

var (
	// ErrNoText is returned by generation methods when no text provider is
	// configured.
	ErrNoText = errors.New("app: no text provider configured")

	// ErrNoLive is returned by RunLive when no live provider or audio device
	// is configured.
	ErrNoLive = errors.New("app: live session unavailable")

	// ErrGeneration is returned when the text model produced nothing usable.
	ErrGeneration = errors.New("app: generation failed")
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	gatherer  prometheus.Gatherer
	version   string

	// Storage, initialised in New unless injected.
	sessions archive.Store
	courses  course.Repository
	kv       archive.KV
	checks   []health.Checker

	settings *settings.Store
	catalog  *course.Catalog
	text     *textgen.Service
	log      *archive.Log
	bridge   *archive.Bridge
	audio    *audioio.Controller
	live     *live.Controller

	mu     sync.Mutex
	lesson live.LessonContext

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects the chat archive instead of creating one from config.
func WithSessionStore(s archive.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithCourseRepository injects the course repository.
func WithCourseRepository(r course.Repository) Option {
	return func(a *App) { a.courses = r }
}

// WithKV injects the key/value store for settings and the resume pointer.
func WithKV(kv archive.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// prometheus default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithVersion sets the version label given to archived sessions.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (built via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Settings ──────────────────────────────────────────────────────
	def := settings.Settings{Language: cfg.Tutor.Language, VoiceName: cfg.Tutor.Voice}
	st, err := settings.LoadWithDefaults(ctx, a.kv, def, a.logger.With("component", "settings"))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: load settings: %w", err)
	}
	a.settings = st

	// ── 3. Catalogue, text service, archive bridge ───────────────────────
	a.catalog = course.NewCatalog(a.courses, a.sessions, course.WithLogger(a.logger))
	if providers.Text != nil {
		a.text = textgen.New(providers.Text,
			textgen.WithLogger(a.logger),
			textgen.WithMetrics(a.metrics),
			textgen.WithModels(textgen.Models{
				Structure: cfg.Tutor.Models.Structure,
				Lesson:    cfg.Tutor.Models.Lesson,
				Search:    cfg.Tutor.Models.Search,
			}),
		)
	}
	a.log = archive.NewLog()
	a.bridge = archive.NewBridge(a.sessions, a.log,
		archive.WithLogger(a.logger),
		archive.WithMetrics(a.metrics),
	)
	a.closers = append([]func() error{a.bridge.Close}, a.closers...)

	// ── 4. Audio + live controller ───────────────────────────────────────
	a.initLive()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage selects Postgres or JSON files for courses and sessions and
// Redis or a JSON file for the key/value store.
func (a *App) initStorage(ctx context.Context) error {
	sc := a.cfg.Storage

	if (a.sessions == nil || a.courses == nil) && sc.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		if a.sessions == nil {
			a.sessions = store.Sessions()
		}
		if a.courses == nil {
			a.courses = store.Courses()
		}
		a.checks = append(a.checks, health.Ping("postgres", store))
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.logger.Info("storage: postgres")
	}

	if a.kv == nil && sc.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: sc.RedisAddr, DB: sc.RedisDB})
		kv := redkv.New(client)
		if err := kv.Ping(ctx); err != nil {
			client.Close()
			return fmt.Errorf("redis %s: %w", sc.RedisAddr, err)
		}
		a.kv = kv
		a.checks = append(a.checks, health.Ping("redis", kv))
		a.closers = append(a.closers, kv.Close)
		a.logger.Info("kv: redis", "addr", sc.RedisAddr, "db", sc.RedisDB)
	}

	if a.sessions != nil && a.courses != nil && a.kv != nil {
		return nil
	}
	if sc.DataDir == "" {
		return errors.New("storage.data_dir is required when postgres_dsn or redis_addr are unset")
	}
	if err := os.MkdirAll(sc.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if a.sessions == nil {
		fs, err := archive.NewFileStore(filepath.Join(sc.DataDir, "sessions.json"))
		if err != nil {
			return err
		}
		a.sessions = fs
	}
	if a.courses == nil {
		repo, err := course.NewFileRepository(filepath.Join(sc.DataDir, "courses"))
		if err != nil {
			return err
		}
		a.courses = repo
	}
	if a.kv == nil {
		a.kv = archive.NewFileKV(filepath.Join(sc.DataDir, "kv.json"))
	}
	a.logger.Debug("file storage", "dir", sc.DataDir)
	return nil
}

// initLive builds the audio and live controllers when the devices and the
// live provider are available.
func (a *App) initLive() {
	p := a.providers
	if p.Live == nil || p.Mic == nil || p.Output == nil {
		return
	}
	a.audio = audioio.New(p.Mic, p.Output,
		audioio.WithLogger(a.logger),
		audioio.WithMetrics(a.metrics),
	)
	opts := []live.Option{
		live.WithLogger(a.logger),
		live.WithMetrics(a.metrics),
		live.WithContextRunes(a.cfg.Tutor.ContextRunes),
	}
	if a.cfg.Tutor.Persona != "" {
		opts = append(opts, live.WithPersona(a.cfg.Tutor.Persona))
	}
	a.live = live.New(p.Live, a.audio, a.settings, a.log, opts...)
	a.audio.OnInputError(a.live.ReportAudioError)

	// live first: its teardown resets audio, then the devices go.
	a.closers = append([]func() error{a.live.Close, a.audio.Close}, a.closers...)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of a config change. It is
// meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TutorChanged {
		a.logger.Info("tutor settings changed; applied to the next process start",
			"persona", d.Tutor.PersonaChanged,
			"voice", d.Tutor.VoiceChanged,
			"models", d.Tutor.ModelsChanged,
		)
	}
	if d.RestartRequired {
		a.logger.Warn("provider or storage configuration changed; restart to apply")
	}
}

// SlogLevel converts a config log level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the live session and audio first, then
// the archive bridge (final flush), then storage. If ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
