// Package amp contains the sampled op-amp model.
// This package has NO external dependencies (no MQTT, I2C, GPIO, or OS access).
// Parameters, ports, scheduling and diagnostics are injected through the
// interfaces below, and time is injected through Deps.Now.
package amp

import (
	"time"

	"github.com/sweeney/opamp-chip/internal/sched"
)

// Pin names, as registered with the port registry.
const (
	PinInP = "IN+"
	PinInN = "IN-"
	PinOut = "OUT"
	PinVCC = "VCC"
	PinVEE = "VEE"
)

// Parameter names, as registered with the parameter store.
const (
	ParamGain   = "gain"
	ParamPeriod = "period"
)

// Defaults used when no configuration overrides them.
const (
	DefaultGain     = 100000.0
	DefaultPeriodMs = 10
	DefaultVCC      = 5.0
	DefaultVEE      = 0.0
)

// GainHysteresis is the minimum gain change that produces a GAIN_CHANGED event.
const GainHysteresis = 1.0

// Direction describes how a pin is registered.
type Direction int

const (
	// Input is an analog input that must be driven for a meaningful reading.
	Input Direction = iota
	// OptionalInput is an analog input that may be left unconnected.
	OptionalInput
	// Output is the amplifier output.
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case OptionalInput:
		return "optional-input"
	case Output:
		return "output"
	}
	return "unknown"
}

// Params is the external parameter store.
type Params interface {
	// Register declares a parameter and its default value.
	Register(name string, def float64)
	// Read returns the current value of a parameter.
	Read(name string) float64
}

// Ports is the analog port registry.
type Ports interface {
	// Register declares a pin.
	Register(name string, dir Direction)
	// Read returns the voltage on an input pin. ok is false if the pin is unconnected.
	Read(name string) (v float64, ok bool)
	// Write drives the output pin.
	Write(name string, v float64)
}

// Scheduler is the periodic scheduling facility.
type Scheduler interface {
	Arm(interval time.Duration, repeating bool, cb func()) sched.Handle
	Cancel(h sched.Handle)
}

// Sink receives change notifications and per-update diagnostics.
// Implementations must not block.
type Sink interface {
	Event(e Event)
	Sample(s Sample)
}

// EventType identifies a change notification.
type EventType string

const (
	EventPeriodChanged EventType = "PERIOD_CHANGED"
	EventGainChanged   EventType = "GAIN_CHANGED"
)

// Event is a change notification emitted by the update step.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Gain      float64
	PeriodMs  int
}

// Sample is the diagnostic record of one update.
type Sample struct {
	Timestamp    time.Time
	VInP         float64
	VInN         float64
	VCC          float64
	VEE          float64
	VCCConnected bool
	VEEConnected bool
	Raw          float64 // (VInP - VInN) * Gain, before clamping
	Out          float64
	Gain         float64
	PeriodMs     int
}

// Saturation reports which rail, if any, limited the output.
func (s Sample) Saturation() string {
	switch {
	case s.Out != s.Raw && s.Out == s.VCC:
		return "HIGH"
	case s.Out != s.Raw && s.Out == s.VEE:
		return "LOW"
	}
	return ""
}

// Counts tracks how often the update step did something notable.
type Counts struct {
	Ticks         uint64
	PeriodChanges int
	GainChanges   int
}

// State is the amplifier state.
type State struct {
	// Live values read on the most recent update.
	Gain     float64
	PeriodMs int

	// LastGain is the gain of the most recent GAIN_CHANGED notification
	// (or the default). It never affects the computed output.
	LastGain float64
	// LastPeriodMs is the period the trigger is currently armed at.
	LastPeriodMs int

	Counts Counts
	Last   Sample
}

// Config holds the defaults an Amplifier registers and falls back to.
type Config struct {
	Gain     float64
	PeriodMs int
	VCC      float64
	VEE      float64
}

// DefaultConfig returns the stock defaults: gain 100000, period 10ms, rails 5V/0V.
func DefaultConfig() Config {
	return Config{
		Gain:     DefaultGain,
		PeriodMs: DefaultPeriodMs,
		VCC:      DefaultVCC,
		VEE:      DefaultVEE,
	}
}

// Deps are the host collaborators of an Amplifier.
type Deps struct {
	Params    Params
	Ports     Ports
	Scheduler Scheduler
	Sink      Sink             // optional
	Now       func() time.Time // optional, defaults to time.Now
}

// MultiSink fans notifications out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Event(e Event) {
	for _, s := range m {
		s.Event(e)
	}
}

func (m MultiSink) Sample(smp Sample) {
	for _, s := range m {
		s.Sample(smp)
	}
}

type discard struct{}

func (discard) Event(Event)   {}
func (discard) Sample(Sample) {}
