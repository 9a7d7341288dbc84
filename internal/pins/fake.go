package pins

import "github.com/sweeney/opamp-chip/internal/amp"

// Reading is one scripted input value. Unconnected readings make Read report false.
type Reading struct {
	V         float64
	Connected bool
}

// V is shorthand for a connected Reading.
func V(v float64) Reading {
	return Reading{V: v, Connected: true}
}

// NC is an unconnected Reading.
var NC = Reading{}

// Write records one write to an output pin.
type Write struct {
	Pin string
	V   float64
}

// Fake is a test double that returns scripted input values.
type Fake struct {
	// Inputs maps pin names to scripted readings. Each Read consumes the next
	// reading; when exhausted, the last one repeats. Pins with no script are
	// unconnected.
	Inputs map[string][]Reading

	// Writes contains every output write in order.
	Writes []Write

	// Registered records the direction each pin was registered with.
	Registered map[string]amp.Direction

	index map[string]int
}

// NewFake creates a Fake with the given scripted inputs.
func NewFake(inputs map[string][]Reading) *Fake {
	if inputs == nil {
		inputs = make(map[string][]Reading)
	}
	return &Fake{
		Inputs:     inputs,
		Registered: make(map[string]amp.Direction),
		index:      make(map[string]int),
	}
}

// Register records the pin's direction.
func (f *Fake) Register(name string, dir amp.Direction) {
	f.Registered[name] = dir
}

// Read returns the next scripted reading for the pin.
func (f *Fake) Read(name string) (float64, bool) {
	script := f.Inputs[name]
	if len(script) == 0 {
		return 0, false
	}

	i := f.index[name]
	r := script[i]
	if i < len(script)-1 {
		f.index[name] = i + 1
	}
	return r.V, r.Connected
}

// Write records the output value.
func (f *Fake) Write(name string, v float64) {
	f.Writes = append(f.Writes, Write{Pin: name, V: v})
}

// Drive replaces a pin's script with a single repeating reading.
func (f *Fake) Drive(name string, r Reading) {
	f.Inputs[name] = []Reading{r}
	f.index[name] = 0
}

// Last returns the most recent write, or false if nothing was written.
func (f *Fake) Last() (Write, bool) {
	if len(f.Writes) == 0 {
		return Write{}, false
	}
	return f.Writes[len(f.Writes)-1], true
}

// Reset rewinds every script and clears recorded writes.
func (f *Fake) Reset() {
	f.index = make(map[string]int)
	f.Writes = nil
}
