package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/didata-ai/didata/pkg/provider/llm"
	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	text map[string]func(ProviderEntry) (llm.Provider, error)
	live map[string]func(ProviderEntry) (s2s.Provider, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		text: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		live: make(map[string]func(ProviderEntry) (s2s.Provider, error)),
	}
}

// RegisterText registers a text-generation factory under name. A later
// registration under the same name wins.
func (r *Registry) RegisterText(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text[name] = factory
}

// RegisterLive registers a live speech-to-speech factory under name.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// CreateText instantiates the text provider registered under entry.Name.
func (r *Registry) CreateText(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.text[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: text/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLive instantiates the live provider registered under entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// TextNames returns the registered text provider names, sorted.
func (r *Registry) TextNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.text))
	for n := range r.text {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
