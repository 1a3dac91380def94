package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engine  map[string]func(ProviderEntry) (stt.Provider, error)
	capture map[string]func(ProviderEntry) (audio.CaptureDevice, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engine:  make(map[string]func(ProviderEntry) (stt.Provider, error)),
		capture: make(map[string]func(ProviderEntry) (audio.CaptureDevice, error)),
	}
}

// RegisterEngine registers a speech engine factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterEngine(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.CaptureDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateEngine builds the engine registered under entry.Name.
func (r *Registry) CreateEngine(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.engine[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture builds the capture device registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Engines returns the registered engine names, sorted.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engine))
	for n := range r.engine {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// BoolOption returns Options[key] when it is a bool.
func (e ProviderEntry) BoolOption(key string) (bool, bool) {
	v, ok := e.Options[key].(bool)
	return v, ok
}

// IntOption returns Options[key] as an int. YAML integers decode as int and
// floats with no fractional part are accepted.
func (e ProviderEntry) IntOption(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// FloatOption returns Options[key] as a float64.
func (e ProviderEntry) FloatOption(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
