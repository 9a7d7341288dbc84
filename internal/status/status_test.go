package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/opamp-chip/internal/amp"
)

func saturatedHigh() amp.Sample {
	return amp.Sample{VInP: 2.501, VInN: 2.5, VCC: 5, VEE: 0, Raw: 100, Out: 5, Gain: 100000, PeriodMs: 10}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{InstanceID: "abc", DefaultPeriodMs: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg, 0)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.DefaultPeriodMs != 10 {
		t.Errorf("Config.DefaultPeriodMs: got %d, want 10", snap.Config.DefaultPeriodMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Ready() {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if len(snap.History) != 0 {
		t.Errorf("expected empty history, got %d", len(snap.History))
	}
}

func TestSampleAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 0)

	tr.Sample(saturatedHigh())
	tr.Sample(amp.Sample{VInP: 0, VInN: 1, VCC: 5, VEE: 0, Raw: -100000, Out: 0, Gain: 100000, PeriodMs: 10})
	tr.Sample(amp.Sample{VInP: 1, VInN: 1, VCC: 5, VEE: 0, Raw: 0, Out: 0, Gain: 100000, PeriodMs: 10})

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected Ready=true")
	}
	if snap.Counts.Ticks != 3 {
		t.Errorf("Counts.Ticks: got %d, want 3", snap.Counts.Ticks)
	}
	if snap.Counts.SaturatedHigh != 1 {
		t.Errorf("Counts.SaturatedHigh: got %d, want 1", snap.Counts.SaturatedHigh)
	}
	if snap.Counts.SaturatedLow != 1 {
		t.Errorf("Counts.SaturatedLow: got %d, want 1", snap.Counts.SaturatedLow)
	}
	if snap.Last.VInP != 1 {
		t.Errorf("Last.VInP: got %v, want 1", snap.Last.VInP)
	}
	if len(snap.History) != 3 {
		t.Errorf("History: got %d samples, want 3", len(snap.History))
	}
}

func TestEventCounts(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 0)

	tr.Event(amp.Event{Type: amp.EventPeriodChanged, PeriodMs: 1})
	tr.Event(amp.Event{Type: amp.EventGainChanged, Gain: 100002})
	tr.Event(amp.Event{Type: amp.EventGainChanged, Gain: 5})

	snap := tr.Snapshot()
	if snap.Counts.PeriodChanges != 1 {
		t.Errorf("PeriodChanges: got %d, want 1", snap.Counts.PeriodChanges)
	}
	if snap.Counts.GainChanges != 2 {
		t.Errorf("GainChanges: got %d, want 2", snap.Counts.GainChanges)
	}
	if snap.LastEvent == nil || snap.LastEvent.Gain != 5 {
		t.Errorf("LastEvent: got %+v", snap.LastEvent)
	}
}

func TestHistoryWraps(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 3)

	for i := 1; i <= 5; i++ {
		tr.Sample(amp.Sample{VInP: float64(i)})
	}

	hist := tr.Snapshot().History
	if len(hist) != 3 {
		t.Fatalf("History: got %d, want 3", len(hist))
	}
	for i, want := range []float64{3, 4, 5} {
		if hist[i].VInP != want {
			t.Errorf("History[%d].VInP: got %v, want %v", i, hist[i].VInP, want)
		}
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 0)

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 0)

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 0)
	tr.Sample(amp.Sample{Out: 1})
	tr.Event(amp.Event{Type: amp.EventGainChanged, Gain: 7})

	snap1 := tr.Snapshot()

	tr.Sample(amp.Sample{Out: 2})
	tr.Event(amp.Event{Type: amp.EventGainChanged, Gain: 9})

	if snap1.Last.Out != 1 {
		t.Error("snapshot should be a copy; Last was modified")
	}
	if len(snap1.History) != 1 {
		t.Error("snapshot should be a copy; History was modified")
	}
	if snap1.LastEvent.Gain != 7 {
		t.Error("snapshot should be a copy; LastEvent was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Last:          saturatedHigh(),
		Counts:        Counts{Ticks: 5, GainChanges: 1},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{InstanceID: "abc", DefaultGain: 100000, DefaultPeriodMs: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Instance != "abc" {
		t.Errorf("Instance: got %q, want abc", s.Instance)
	}
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.Output.Volts != 5 || s.Output.Saturation != "HIGH" {
		t.Errorf("Output: got %+v", s.Output)
	}
	if s.Inputs.VInP != 2.501 {
		t.Errorf("Inputs.VInP: got %v", s.Inputs.VInP)
	}
	if s.Gain != 100000 || s.PeriodMs != 10 {
		t.Errorf("Gain/PeriodMs: got %v/%d", s.Gain, s.PeriodMs)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Counts.Ticks != 5 {
		t.Errorf("Counts.Ticks: got %d, want 5", s.Counts.Ticks)
	}
	// Event and Reason should be omitted
	if s.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", s.Event)
	}
	if s.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", s.Reason)
	}
}

func TestFormatJSONLastEvent(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	snap := Snapshot{
		LastEvent: &amp.Event{Timestamp: ts, Type: amp.EventPeriodChanged, PeriodMs: 1},
		StartTime: ts,
		Now:       ts,
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.LastEvent == nil {
		t.Fatal("expected last_event")
	}
	if parsed.Status.LastEvent.Type != "PERIOD_CHANGED" || parsed.Status.LastEvent.PeriodMs != 1 {
		t.Errorf("LastEvent: got %+v", parsed.Status.LastEvent)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Last:      saturatedHigh(),
		Counts:    Counts{Ticks: 3},
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestFormatCompactJSON(t *testing.T) {
	snap := Snapshot{Last: saturatedHigh()}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatCompactJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Output.Volts != 5 {
		t.Errorf("Output.Volts: got %v, want 5", parsed.Status.Output.Volts)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, 16)
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Sample(amp.Sample{Out: float64(i)})
			tr.Event(amp.Event{Type: amp.EventGainChanged})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
