// Package settings persists the learner's preferences: interface language and
// the tutor voice. They are stored as one JSON blob under a fixed key in an
// [archive.KV], read once at startup and written on every change.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/pkg/provider/s2s/gemini"
)

// Key is the KV key holding the settings blob.
const Key = "didata-settings"

// Settings are the learner preferences.
type Settings struct {
	Language  string `json:"lang"`
	VoiceName string `json:"voiceName"`
}

// Default returns the settings used before anything was saved.
func Default() Settings {
	return Settings{Language: "pt-BR", VoiceName: "Charon"}
}

// Voices returns the selectable voice names.
func Voices() []string { return slices.Clone(gemini.Voices) }

// Validate reports an unknown voice or an empty language.
func (s Settings) Validate() error {
	if s.Language == "" {
		return fmt.Errorf("settings: language must not be empty")
	}
	if !slices.Contains(gemini.Voices, s.VoiceName) {
		return fmt.Errorf("settings: unknown voice %q (want one of %v)", s.VoiceName, gemini.Voices)
	}
	return nil
}

// Store caches the settings in memory and writes through to a KV.
// All methods are safe for concurrent use.
type Store struct {
	kv     archive.KV
	logger *slog.Logger

	mu        sync.RWMutex
	current   Settings
	listeners []func(Settings)
}

// Load reads the settings from kv. Missing or unreadable values fall back to
// [Default] field by field; only a KV failure is returned as an error.
func Load(ctx context.Context, kv archive.KV, logger *slog.Logger) (*Store, error) {
	return LoadWithDefaults(ctx, kv, Default(), logger)
}

// LoadWithDefaults is [Load] with caller-supplied fallbacks. Empty or
// invalid fields of def are taken from [Default].
func LoadWithDefaults(ctx context.Context, kv archive.KV, def Settings, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := Default()
	if def.Language != "" {
		base.Language = def.Language
	}
	if slices.Contains(gemini.Voices, def.VoiceName) {
		base.VoiceName = def.VoiceName
	}
	s := &Store{kv: kv, logger: logger, current: base}

	raw, ok, err := kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	if !ok {
		return s, nil
	}
	var saved Settings
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		logger.Warn("settings: ignoring unreadable settings", "err", err)
		return s, nil
	}
	if saved.Language != "" {
		s.current.Language = saved.Language
	}
	if saved.VoiceName != "" && slices.Contains(gemini.Voices, saved.VoiceName) {
		s.current.VoiceName = saved.VoiceName
	}
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set validates and persists next, then notifies listeners.
func (s *Store) Set(ctx context.Context, next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}

	s.mu.Lock()
	s.current = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	s.logger.Info("settings saved", "lang", next.Language, "voice", next.VoiceName)
	return nil
}

// SetVoice changes only the voice.
func (s *Store) SetVoice(ctx context.Context, voice string) error {
	next := s.Get()
	next.VoiceName = voice
	return s.Set(ctx, next)
}

// OnChange registers fn to run after every successful Set.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
