package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Instance      string       `json:"instance"`
	Ready         bool         `json:"ready"`
	Gain          float64      `json:"gain"`
	PeriodMs      int          `json:"period_ms"`
	Inputs        InputsJSON   `json:"inputs"`
	Rails         RailsJSON    `json:"rails"`
	Output        OutputJSON   `json:"output"`
	LastEvent     *EventJSON   `json:"last_event,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	History       *HistoryJSON `json:"history,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// InputsJSON reports the differential inputs.
type InputsJSON struct {
	VInP float64 `json:"vinp"`
	VInN float64 `json:"vinn"`
}

// RailsJSON reports the supply rails in effect.
type RailsJSON struct {
	VCC          float64 `json:"vcc"`
	VEE          float64 `json:"vee"`
	VCCConnected bool    `json:"vcc_connected"`
	VEEConnected bool    `json:"vee_connected"`
}

// OutputJSON reports the amplifier output.
type OutputJSON struct {
	Volts      float64 `json:"volts"`
	Raw        float64 `json:"raw"`
	Saturation string  `json:"saturation,omitempty"`
}

// EventJSON is the JSON representation of the most recent change notification.
type EventJSON struct {
	Type      string  `json:"type"`
	Gain      float64 `json:"gain"`
	PeriodMs  int     `json:"period_ms"`
	Timestamp string  `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of the update counters.
type CountsJSON struct {
	Ticks         uint64 `json:"ticks"`
	PeriodChanges int    `json:"period_changes"`
	GainChanges   int    `json:"gain_changes"`
	SaturatedHigh uint64 `json:"saturated_high"`
	SaturatedLow  uint64 `json:"saturated_low"`
}

// HistoryJSON summarizes the output over the retained samples.
type HistoryJSON struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"out_mean"`
	StdDev  float64 `json:"out_stddev"`
	Min     float64 `json:"out_min"`
	Max     float64 `json:"out_max"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PortsMode       string  `json:"ports"`
	DefaultGain     float64 `json:"default_gain"`
	DefaultPeriodMs int     `json:"default_period_ms"`
	HeartbeatMs     int64   `json:"heartbeat_ms"`
	Broker          string  `json:"broker"`
	TopicPrefix     string  `json:"topic_prefix"`
	HTTPAddr        string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	last := snap.Last
	inner := StatusInner{
		Instance: snap.Config.InstanceID,
		Ready:    snap.Ready(),
		Gain:     last.Gain,
		PeriodMs: last.PeriodMs,
		Inputs:   InputsJSON{VInP: last.VInP, VInN: last.VInN},
		Rails: RailsJSON{
			VCC:          last.VCC,
			VEE:          last.VEE,
			VCCConnected: last.VCCConnected,
			VEEConnected: last.VEEConnected,
		},
		Output:        OutputJSON{Volts: last.Out, Raw: last.Raw, Saturation: last.Saturation()},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Ticks:         snap.Counts.Ticks,
			PeriodChanges: snap.Counts.PeriodChanges,
			GainChanges:   snap.Counts.GainChanges,
			SaturatedHigh: snap.Counts.SaturatedHigh,
			SaturatedLow:  snap.Counts.SaturatedLow,
		},
		Config: ConfigJSON{
			PortsMode:       snap.Config.PortsMode,
			DefaultGain:     snap.Config.DefaultGain,
			DefaultPeriodMs: snap.Config.DefaultPeriodMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			TopicPrefix:     snap.Config.TopicPrefix,
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}
	if len(snap.History) > 0 {
		st := Summarize(snap.History)
		inner.History = &HistoryJSON{Samples: st.N, Mean: st.Mean, StdDev: st.StdDev, Min: st.Min, Max: st.Max}
	}
	if e := snap.LastEvent; e != nil {
		inner.LastEvent = &EventJSON{
			Type:      string(e.Type),
			Gain:      e.Gain,
			PeriodMs:  e.PeriodMs,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatCompactJSON is FormatJSON without indentation, for the live feed.
func FormatCompactJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
