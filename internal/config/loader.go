package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/didata-ai/didata/pkg/provider/s2s/gemini"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live"},
	"text": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = DefaultLiveProvider
	}
	if cfg.Providers.Text.Name == "" {
		cfg.Providers.Text.Name = DefaultTextProvider
	}
	if cfg.Providers.TextTimeout == 0 {
		cfg.Providers.TextTimeout = DefaultTextTimeout
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Tutor.Language == "" {
		cfg.Tutor.Language = DefaultLanguage
	}
	if cfg.Tutor.Voice == "" {
		cfg.Tutor.Voice = DefaultVoice
	}
	if cfg.Tutor.ContextRunes == 0 {
		cfg.Tutor.ContextRunes = DefaultContextRunes
	}
	if cfg.Tutor.LessonWorkers == 0 {
		cfg.Tutor.LessonWorkers = DefaultLessonWorkers
	}
}

// Validate checks that cfg is coherent and returns every failure joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	for _, e := range cfg.Providers.LiveFallbacks {
		validateProviderName("live", e.Name)
	}
	validateProviderName("text", cfg.Providers.Text.Name)
	for i, e := range cfg.Providers.TextFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.text_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("text", e.Name)
	}
	for i, e := range cfg.Providers.LiveFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.live_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.TextTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.text_timeout %v must not be negative", cfg.Providers.TextTimeout))
	}

	if cfg.Storage.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("storage.redis_db %d must not be negative", cfg.Storage.RedisDB))
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage: one of postgres_dsn or data_dir is required"))
	}

	if cfg.Tutor.Voice != "" && !slices.Contains(gemini.Voices, cfg.Tutor.Voice) {
		errs = append(errs, fmt.Errorf("tutor.voice %q is unknown; valid values: %v", cfg.Tutor.Voice, gemini.Voices))
	}
	if cfg.Tutor.ContextRunes < 0 {
		errs = append(errs, fmt.Errorf("tutor.context_runes %d must not be negative", cfg.Tutor.ContextRunes))
	}
	if cfg.Tutor.LessonWorkers < 0 || cfg.Tutor.LessonWorkers > 16 {
		errs = append(errs, fmt.Errorf("tutor.lesson_workers %d is out of range [0, 16]", cfg.Tutor.LessonWorkers))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
