package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be applied without a restart are tracked; provider and storage changes need
// one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TutorChanged is true if any field of the tutor section changed.
	TutorChanged bool
	Tutor        TutorDiff

	// RestartRequired is true if providers or storage changed.
	RestartRequired bool
}

// TutorDiff flags the tutor fields that changed.
type TutorDiff struct {
	PersonaChanged       bool
	VoiceChanged         bool
	LanguageChanged      bool
	ContextRunesChanged  bool
	LessonWorkersChanged bool
	ModelsChanged        bool
}

func (t TutorDiff) any() bool {
	return t.PersonaChanged || t.VoiceChanged || t.LanguageChanged ||
		t.ContextRunesChanged || t.LessonWorkersChanged || t.ModelsChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Tutor = TutorDiff{
		PersonaChanged:       old.Tutor.Persona != new.Tutor.Persona,
		VoiceChanged:         old.Tutor.Voice != new.Tutor.Voice,
		LanguageChanged:      old.Tutor.Language != new.Tutor.Language,
		ContextRunesChanged:  old.Tutor.ContextRunes != new.Tutor.ContextRunes,
		LessonWorkersChanged: old.Tutor.LessonWorkers != new.Tutor.LessonWorkers,
		ModelsChanged:        old.Tutor.Models != new.Tutor.Models,
	}
	d.TutorChanged = d.Tutor.any()

	d.RestartRequired = old.Storage != new.Storage ||
		old.Server.AdminAddr != new.Server.AdminAddr ||
		!sameEntry(old.Providers.Live, new.Providers.Live) ||
		!sameEntry(old.Providers.Text, new.Providers.Text) ||
		!sameEntries(old.Providers.TextFallbacks, new.Providers.TextFallbacks) ||
		!sameEntries(old.Providers.LiveFallbacks, new.Providers.LiveFallbacks) ||
		old.Providers.TextTimeout != new.Providers.TextTimeout

	return d
}

// sameEntry compares the scalar fields of two entries. Options are not
// compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}
