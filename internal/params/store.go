// Package params provides the externally controlled parameter store.
// Parameters are set from MQTT, HTTP and the console while the update step
// reads them, so every method is safe for concurrent use.
package params

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrUnknownParam is returned when setting a parameter that was never registered.
	ErrUnknownParam = errors.New("unknown parameter")
	// ErrNotFinite is returned when setting a parameter to NaN or an infinity.
	ErrNotFinite = errors.New("value is not finite")
)

type param struct {
	def   float64
	value float64
}

// Store holds named numeric parameters with defaults.
type Store struct {
	mu     sync.RWMutex
	params map[string]*param

	// OnChange, if set, is called after a successful Set with the new value.
	// It is called without the lock held.
	OnChange func(name string, v float64)
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{params: make(map[string]*param)}
}

// Register declares a parameter. Registering an existing name updates its default
// but keeps its current value.
func (s *Store) Register(name string, def float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.params[name]; ok {
		p.def = def
		return
	}
	s.params[name] = &param{def: def, value: def}
}

// Read returns the current value. Unregistered names read as 0.
func (s *Store) Read(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.params[name]; ok {
		return p.value
	}
	return 0
}

// Lookup returns the current value and whether the name is registered.
func (s *Store) Lookup(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.params[name]
	if !ok {
		return 0, false
	}
	return p.value, true
}

// Set changes a registered parameter.
func (s *Store) Set(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("set %s: %w", name, ErrNotFinite)
	}

	s.mu.Lock()
	p, ok := s.params[name]
	if ok {
		p.value = v
	}
	onChange := s.OnChange
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("set %s: %w", name, ErrUnknownParam)
	}
	if onChange != nil {
		onChange(name, v)
	}
	return nil
}

// Reset restores a parameter to its default.
func (s *Store) Reset(name string) error {
	s.mu.RLock()
	p, ok := s.params[name]
	var def float64
	if ok {
		def = p.def
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("reset %s: %w", name, ErrUnknownParam)
	}
	return s.Set(name, def)
}

// Default returns the registered default of a parameter.
func (s *Store) Default(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.params[name]
	if !ok {
		return 0, false
	}
	return p.def, true
}

// Names returns the registered parameter names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.params))
	for n := range s.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all current values.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.params))
	for n, p := range s.params {
		out[n] = p.value
	}
	return out
}
