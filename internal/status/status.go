// Package status provides a thread-safe status tracker for the opamp-chip daemon.
// The tracker is fed directly by the amplifier (it implements amp.Sink) and is
// read by HTTP handlers, the console and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// DefaultHistory is the number of samples kept for plotting.
const DefaultHistory = 500

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	InstanceID      string
	PortsMode       string
	DefaultGain     float64
	DefaultPeriodMs int
	HeartbeatMs     int64
	Broker          string
	TopicPrefix     string
	HTTPAddr        string
}

// Counts tracks what the amplifier has done since startup.
type Counts struct {
	Ticks         uint64
	PeriodChanges int
	GainChanges   int
	SaturatedHigh uint64
	SaturatedLow  uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Last          amp.Sample
	LastEvent     *amp.Event
	Counts        Counts
	History       []amp.Sample
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Ready reports whether at least one update has run.
func (s Snapshot) Ready() bool {
	return s.Counts.Ticks > 0
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	history *ring
}

// NewTracker creates a Tracker with the given start time and config.
// A history size <= 0 uses DefaultHistory.
func NewTracker(startTime time.Time, cfg Config, history int) *Tracker {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		history: newRing(history),
	}
}

// Event records a change notification. Called from the update step.
func (t *Tracker) Event(e amp.Event) {
	t.mu.Lock()
	switch e.Type {
	case amp.EventPeriodChanged:
		t.snap.Counts.PeriodChanges++
	case amp.EventGainChanged:
		t.snap.Counts.GainChanges++
	}
	t.snap.LastEvent = &e
	t.mu.Unlock()
}

// Sample records the diagnostic record of one update. Called from the update step.
func (t *Tracker) Sample(s amp.Sample) {
	t.mu.Lock()
	t.snap.Last = s
	t.snap.Counts.Ticks++
	switch s.Saturation() {
	case "HIGH":
		t.snap.Counts.SaturatedHigh++
	case "LOW":
		t.snap.Counts.SaturatedLow++
	}
	t.history.push(s)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.History = t.history.items()
	if s.LastEvent != nil {
		e := *s.LastEvent
		s.LastEvent = &e
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

var _ amp.Sink = (*Tracker)(nil)
