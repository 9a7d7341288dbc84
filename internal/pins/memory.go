package pins

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sweeney/opamp-chip/internal/amp"
)

var (
	// ErrUnknownPin is returned when driving a pin that was never registered.
	ErrUnknownPin = errors.New("unknown pin")
	// ErrNotInput is returned when driving the output pin from outside.
	ErrNotInput = errors.New("pin is not an input")
)

type pinState struct {
	dir       amp.Direction
	connected bool
	v         float64
}

// Memory is a thread-safe in-process registry. Inputs start unconnected and
// become connected the first time they are Set.
type Memory struct {
	mu   sync.RWMutex
	pins map[string]*pinState

	// OnWrite, if set, is called on every write to an output pin, without the
	// lock held. It runs on the update goroutine and must not block.
	OnWrite func(name string, v float64)
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{pins: make(map[string]*pinState)}
}

// Register declares a pin. Re-registering keeps any driven value.
func (m *Memory) Register(name string, dir amp.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pins[name]; ok {
		p.dir = dir
		return
	}
	m.pins[name] = &pinState{dir: dir}
}

// Read returns the voltage on a connected input.
func (m *Memory) Read(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pins[name]
	if !ok || !p.connected || p.dir == amp.Output {
		return 0, false
	}
	return p.v, true
}

// Write stores the value of an output pin. Writes to unknown pins or inputs are dropped.
func (m *Memory) Write(name string, v float64) {
	m.mu.Lock()
	p, ok := m.pins[name]
	if ok && p.dir == amp.Output {
		p.v = v
		p.connected = true
	}
	hook := m.OnWrite
	m.mu.Unlock()

	if ok && p.dir == amp.Output && hook != nil {
		hook(name, v)
	}
}

// Set connects an input pin and drives it to v.
func (m *Memory) Set(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("drive %s: voltage %v is not finite", name, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pins[name]
	if !ok {
		return fmt.Errorf("drive %s: %w", name, ErrUnknownPin)
	}
	if p.dir == amp.Output {
		return fmt.Errorf("drive %s: %w", name, ErrNotInput)
	}
	p.v = v
	p.connected = true
	return nil
}

// Disconnect leaves an input pin floating.
func (m *Memory) Disconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pins[name]
	if !ok {
		return fmt.Errorf("disconnect %s: %w", name, ErrUnknownPin)
	}
	if p.dir == amp.Output {
		return fmt.Errorf("disconnect %s: %w", name, ErrNotInput)
	}
	p.v = 0
	p.connected = false
	return nil
}

// Output returns the last value written to an output pin.
func (m *Memory) Output(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pins[name]
	if !ok || p.dir != amp.Output || !p.connected {
		return 0, false
	}
	return p.v, true
}

// Pins returns every registered pin sorted by name.
func (m *Memory) Pins() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.pins))
	for name, p := range m.pins {
		out = append(out, Info{Name: name, Direction: p.dir, Connected: p.connected, Voltage: p.v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
