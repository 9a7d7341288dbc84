// Package mqtt provides MQTT publishing and parameter/pin ingress with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/opamp-chip/internal/amp"
	"github.com/sweeney/opamp-chip/internal/pins"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "circuit/opamp"

// Topics derives every topic from one prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, falling back to DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

// Events is the topic for GAIN_CHANGED / PERIOD_CHANGED notifications.
func (t Topics) Events() string { return t.Prefix + "/events" }

// Samples is the topic for per-update diagnostic records.
func (t Topics) Samples() string { return t.Prefix + "/samples" }

// System is the topic for lifecycle events (startup, shutdown, heartbeat).
func (t Topics) System() string { return t.Prefix + "/system" }

// Output is the topic the output voltage is written to.
func (t Topics) Output() string { return t.Prefix + "/pins/out" }

// Param is the topic that sets one parameter.
func (t Topics) Param(name string) string { return t.Prefix + "/params/" + name }

// Pin is the topic that drives one input pin.
func (t Topics) Pin(name string) string { return t.Prefix + "/pins/in/" + pins.Slug(name) }

// ParamsFilter subscribes to every parameter topic.
func (t Topics) ParamsFilter() string { return t.Prefix + "/params/+" }

// PinsFilter subscribes to every input pin topic.
func (t Topics) PinsFilter() string { return t.Prefix + "/pins/in/+" }

// Publisher publishes amplifier notifications to MQTT.
type Publisher interface {
	// Publish sends a change notification to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event amp.Event) error

	// PublishSample sends one diagnostic record.
	PublishSample(sample amp.Sample) error

	// PublishOutput sends the output voltage.
	PublishOutput(v float64) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a change notification.
type Payload struct {
	Opamp OpampPayload `json:"opamp"`
}

// OpampPayload contains the notification details.
type OpampPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Gain      float64 `json:"gain"`
	PeriodMs  int     `json:"period_ms"`
}

// FormatPayload creates the JSON payload for a change notification.
func FormatPayload(event amp.Event) ([]byte, error) {
	payload := Payload{
		Opamp: OpampPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:     string(event.Type),
			Gain:      event.Gain,
			PeriodMs:  event.PeriodMs,
		},
	}
	return json.Marshal(payload)
}

// SamplePayload represents the MQTT message payload for a diagnostic record.
type SamplePayload struct {
	Sample SampleInner `json:"sample"`
}

// SampleInner contains one update's readings.
type SampleInner struct {
	Timestamp  string  `json:"timestamp"`
	VInP       float64 `json:"vinp"`
	VInN       float64 `json:"vinn"`
	VCC        float64 `json:"vcc"`
	VEE        float64 `json:"vee"`
	Raw        float64 `json:"raw"`
	Out        float64 `json:"out"`
	Gain       float64 `json:"gain"`
	PeriodMs   int     `json:"period_ms"`
	Saturation string  `json:"saturation,omitempty"`
}

// FormatSample creates the JSON payload for a diagnostic record.
func FormatSample(s amp.Sample) ([]byte, error) {
	return json.Marshal(SamplePayload{
		Sample: SampleInner{
			Timestamp:  s.Timestamp.UTC().Format(time.RFC3339Nano),
			VInP:       s.VInP,
			VInN:       s.VInN,
			VCC:        s.VCC,
			VEE:        s.VEE,
			Raw:        s.Raw,
			Out:        s.Out,
			Gain:       s.Gain,
			PeriodMs:   s.PeriodMs,
			Saturation: s.Saturation(),
		},
	})
}

// FormatVoltage renders a pin voltage as a bare decimal.
func FormatVoltage(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', -1, 64))
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParamSetter receives parameter writes from the broker.
type ParamSetter interface {
	Set(name string, v float64) error
}

// PinDriver receives input pin writes from the broker.
type PinDriver interface {
	Set(name string, v float64) error
	Disconnect(name string) error
}

// Inbound routes subscribed messages. Either field may be nil.
type Inbound struct {
	Params ParamSetter
	Pins   PinDriver
}

// ParseParam extracts the parameter name and value from a parameter message.
func (t Topics) ParseParam(topic string, payload []byte) (string, float64, error) {
	name, ok := strings.CutPrefix(topic, t.Prefix+"/params/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", 0, fmt.Errorf("not a parameter topic: %q", topic)
	}
	v, err := parseNumber(payload)
	if err != nil {
		return "", 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return name, v, nil
}

// ParsePin extracts the pin name and voltage from a pin message. An empty payload
// or "nc" disconnects the pin (connected = false).
func (t Topics) ParsePin(topic string, payload []byte) (pin string, v float64, connected bool, err error) {
	slug, ok := strings.CutPrefix(topic, t.Prefix+"/pins/in/")
	if !ok {
		return "", 0, false, fmt.Errorf("not a pin topic: %q", topic)
	}
	pin, ok = pins.FromSlug(slug)
	if !ok || pin == amp.PinOut {
		return "", 0, false, fmt.Errorf("unknown input pin %q", slug)
	}

	s := strings.TrimSpace(string(payload))
	if s == "" || strings.EqualFold(s, "nc") {
		return pin, 0, false, nil
	}
	v, err = parseNumber(payload)
	if err != nil {
		return "", 0, false, fmt.Errorf("pin %s: %w", pin, err)
	}
	return pin, v, true, nil
}

// Apply routes one received message to in.
func (t Topics) Apply(in Inbound, topic string, payload []byte) error {
	switch {
	case strings.HasPrefix(topic, t.Prefix+"/params/"):
		if in.Params == nil {
			return nil
		}
		name, v, err := t.ParseParam(topic, payload)
		if err != nil {
			return err
		}
		return in.Params.Set(name, v)

	case strings.HasPrefix(topic, t.Prefix+"/pins/in/"):
		if in.Pins == nil {
			return nil
		}
		pin, v, connected, err := t.ParsePin(topic, payload)
		if err != nil {
			return err
		}
		if !connected {
			return in.Pins.Disconnect(pin)
		}
		return in.Pins.Set(pin, v)
	}
	return fmt.Errorf("unexpected topic %q", topic)
}

// parseNumber accepts a bare number or a JSON {"value": n} object.
func parseNumber(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var obj struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return 0, fmt.Errorf("parse %q: %w", s, err)
		}
		if obj.Value == nil {
			return 0, fmt.Errorf("parse %q: missing value", s)
		}
		return *obj.Value, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}
