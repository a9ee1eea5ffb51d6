package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Transcriber bundles what a transcription backend needs: a streaming
// provider and the token exchange for its credentials.
type Transcriber struct {
	Provider stt.Provider
	Tokens   stt.TokenSource
}

// TranscriberFactory builds a [Transcriber] from its config block.
type TranscriberFactory func(TranscriptionConfig) (Transcriber, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]TranscriberFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{transcribers: make(map[string]TranscriberFactory)}
}

// RegisterTranscriber registers a factory under name. Subsequent calls with
// the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// CreateTranscriber instantiates the backend registered under cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTranscriber(cfg TranscriptionConfig) (Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return Transcriber{}, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, cfg.Name)
	}
	t, err := factory(cfg)
	if err != nil {
		return Transcriber{}, fmt.Errorf("config: create transcription/%q: %w", cfg.Name, err)
	}
	if t.Provider == nil || t.Tokens == nil {
		return Transcriber{}, fmt.Errorf("config: transcription/%q factory returned an incomplete backend", cfg.Name)
	}
	return t, nil
}

// Transcribers returns the registered names in sorted order.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcribers))
	for n := range r.transcribers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
