package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mimic/pkg/provider/tts"
)

// ErrBackendNotRegistered is returned by [Registry.CreateTTS] when no factory
// has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// TTSFactory builds a speech backend from the model configuration.
type TTSFactory func(ModelConfig) (tts.Provider, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]TTSFactory)}
}

// RegisterTTS registers a speech backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTTS instantiates the backend registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTTS(cfg ModelConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// TTSBackends returns the registered backend names, sorted.
func (r *Registry) TTSBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tts))
	for n := range r.tts {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
