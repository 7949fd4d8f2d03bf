package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/didata-ai/didata/internal/config"
	"github.com/didata-ai/didata/pkg/provider/llm"
	"github.com/didata-ai/didata/pkg/provider/llm/anyllm"
	geminitext "github.com/didata-ai/didata/pkg/provider/llm/gemini"
	"github.com/didata-ai/didata/pkg/provider/llm/openai"
	"github.com/didata-ai/didata/pkg/provider/s2s"
	geminilive "github.com/didata-ai/didata/pkg/provider/s2s/gemini"
)

const (
	geminiKeyEnv = "GEMINI_API_KEY"
	openAIKeyEnv = "OPENAI_API_KEY"

	defaultOpenAIModel = "gpt-4o-mini"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Text ──────────────────────────────────────────────────────────────────

	reg.RegisterText("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminitext.Option
		if entry.Model != "" {
			opts = append(opts, geminitext.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminitext.WithBaseURL(entry.BaseURL))
		}
		p, err := geminitext.New(apiKey(entry, geminiKeyEnv), opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterText("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optString(entry.Options, "timeout"); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(timeout))
		}
		model := entry.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		p, err := openai.New(apiKey(entry, openAIKeyEnv), model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// The remaining backends share one pattern: optional APIKey and BaseURL.
	// Without a key any-llm-go reads the backend's usual environment variable.
	for _, providerName := range []string{
		"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterText(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterText("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		key := apiKey(entry, geminiKeyEnv)
		if key == "" {
			return nil, errors.New("gemini-live: api_key or " + geminiKeyEnv + " is required")
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d := optString(entry.Options, "keepalive"); d != "" {
			keepalive, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("gemini-live: options.keepalive: %w", err)
			}
			opts = append(opts, geminilive.WithKeepalive(keepalive))
		}
		return geminilive.New(key, opts...), nil
	})
}

// apiKey returns the entry's key, or the value of env when it has none.
func apiKey(entry config.ProviderEntry, env string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(env)
}

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
