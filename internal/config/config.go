// Package config provides the configuration schema, loader, watcher and
// provider registry for the Didata tutor.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLiveProvider  = "gemini-live"
	DefaultTextProvider  = "gemini"
	DefaultLanguage      = "pt-BR"
	DefaultVoice         = "Charon"
	DefaultContextRunes  = 5000
	DefaultDataDir       = ".didata"
	DefaultTextTimeout   = 2 * time.Minute
	DefaultLessonWorkers = 2
)

// Config is the root configuration structure, typically loaded from YAML with
// [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Tutor     TutorConfig     `yaml:"tutor"`
}

// ServerConfig holds logging and the optional admin endpoint.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AdminAddr is the listen address of the admin HTTP server serving
	// /healthz, /readyz and /metrics. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
}

// ProvidersConfig selects the remote model backends.
type ProvidersConfig struct {
	// Live is the speech-to-speech backend used for voice sessions.
	Live ProviderEntry `yaml:"live"`

	// LiveFallbacks are tried in order when Live cannot be dialled.
	LiveFallbacks []ProviderEntry `yaml:"live_fallbacks"`

	// Text is the primary text-generation backend.
	Text ProviderEntry `yaml:"text"`

	// TextFallbacks are tried in order when Text fails.
	TextFallbacks []ProviderEntry `yaml:"text_fallbacks"`

	// TextTimeout bounds a single text-generation call.
	TextTimeout time.Duration `yaml:"text_timeout"`
}

// ProviderEntry is the common configuration block shared by all backends.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. When empty the factory may
	// fall back to an environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects where courses, chat sessions and small key/value
// records live. With PostgresDSN set, courses and sessions go to Postgres;
// with RedisAddr set, settings and the last-session pointer go to Redis.
// Anything left unset is stored as JSON files under DataDir.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	DataDir     string `yaml:"data_dir"`
}

// TutorConfig tunes the voice tutor.
type TutorConfig struct {
	// Language is the default interface language when no settings are saved.
	Language string `yaml:"language"`

	// Voice is the default voice when no settings are saved.
	Voice string `yaml:"voice"`

	// Persona overrides the built-in tutor persona.
	Persona string `yaml:"persona"`

	// ContextRunes caps the lesson content sent to the live model.
	ContextRunes int `yaml:"context_runes"`

	// LessonWorkers bounds concurrent lesson generations.
	LessonWorkers int `yaml:"lesson_workers"`

	// Models overrides the per-operation text models.
	Models TextModels `yaml:"models"`
}

// TextModels names the model used by each text operation.
type TextModels struct {
	Structure string `yaml:"structure"`
	Lesson    string `yaml:"lesson"`
	Search    string `yaml:"search"`
}
