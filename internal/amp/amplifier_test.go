package amp

import (
	"math"
	"testing"
	"time"

	"github.com/sweeney/opamp-chip/internal/params"
	"github.com/sweeney/opamp-chip/internal/sched"
)

// testPorts is a minimal port registry: unset inputs are unconnected.
type testPorts struct {
	registered map[string]Direction
	inputs     map[string]float64
	writes     []float64
}

func newTestPorts() *testPorts {
	return &testPorts{
		registered: make(map[string]Direction),
		inputs:     make(map[string]float64),
	}
}

func (p *testPorts) Register(name string, dir Direction) { p.registered[name] = dir }

func (p *testPorts) Read(name string) (float64, bool) {
	v, ok := p.inputs[name]
	return v, ok
}

func (p *testPorts) Write(name string, v float64) {
	if name == PinOut {
		p.writes = append(p.writes, v)
	}
}

func (p *testPorts) lastOut(t *testing.T) float64 {
	t.Helper()
	if len(p.writes) == 0 {
		t.Fatal("no output written")
	}
	return p.writes[len(p.writes)-1]
}

// recordingSink keeps every event and sample.
type recordingSink struct {
	events  []Event
	samples []Sample
}

func (r *recordingSink) Event(e Event)   { r.events = append(r.events, e) }
func (r *recordingSink) Sample(s Sample) { r.samples = append(r.samples, s) }

type harness struct {
	amp    *Amplifier
	params *params.Store
	ports  *testPorts
	sched  *sched.Fake
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		params: params.NewStore(),
		ports:  newTestPorts(),
		sched:  sched.NewFake(),
		sink:   &recordingSink{},
	}
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.amp = New(DefaultConfig(), Deps{
		Params:    h.params,
		Ports:     h.ports,
		Scheduler: h.sched,
		Sink:      h.sink,
		Now:       func() time.Time { return clock },
	})
	return h
}

func (h *harness) set(t *testing.T, name string, v float64) {
	t.Helper()
	if err := h.params.Set(name, v); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if n := h.sched.Fire(); n != 1 {
		t.Fatalf("expected exactly 1 armed trigger to fire, got %d", n)
	}
}

func (h *harness) eventsOf(typ EventType) []Event {
	var out []Event
	for _, e := range h.sink.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestNewRegistersPinsParamsAndTimer(t *testing.T) {
	h := newHarness(t)

	wantPins := map[string]Direction{
		PinInP: Input,
		PinInN: Input,
		PinOut: Output,
		PinVCC: OptionalInput,
		PinVEE: OptionalInput,
	}
	for name, dir := range wantPins {
		got, ok := h.ports.registered[name]
		if !ok {
			t.Errorf("pin %s not registered", name)
			continue
		}
		if got != dir {
			t.Errorf("pin %s: expected %v, got %v", name, dir, got)
		}
	}

	if v := h.params.Read(ParamGain); v != 100000 {
		t.Errorf("gain default: expected 100000, got %v", v)
	}
	if v := h.params.Read(ParamPeriod); v != 10 {
		t.Errorf("period default: expected 10, got %v", v)
	}

	arms := h.sched.Arms()
	if len(arms) != 1 {
		t.Fatalf("expected 1 arm, got %d", len(arms))
	}
	if arms[0].Interval != 10*time.Millisecond || !arms[0].Repeating {
		t.Errorf("expected repeating 10ms trigger, got %+v", arms[0])
	}

	st := h.amp.State()
	if st.LastGain != 100000 || st.LastPeriodMs != 10 {
		t.Errorf("initial state: got %+v", st)
	}
	if len(h.sink.events) != 0 || len(h.sink.samples) != 0 {
		t.Error("New must not emit notifications")
	}
}

func TestScenarioTable(t *testing.T) {
	tests := []struct {
		name    string
		vinp    float64
		vinn    float64
		wantRaw float64
		wantOut float64
	}{
		{"balanced inputs", 2.500, 2.500, 0, 0},
		{"positive differential saturates high", 2.501, 2.500, 100, 5.0},
		{"negative differential saturates low", 2.499, 2.500, -100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ports.inputs[PinInP] = tt.vinp
			h.ports.inputs[PinInN] = tt.vinn

			h.tick(t)

			s := h.sink.samples[len(h.sink.samples)-1]
			if math.Abs(s.Raw-tt.wantRaw) > 1e-6 {
				t.Errorf("raw: expected %v, got %v", tt.wantRaw, s.Raw)
			}
			if got := h.ports.lastOut(t); got != tt.wantOut {
				t.Errorf("out: expected %v, got %v", tt.wantOut, got)
			}
			if s.VCC != 5.0 || s.VEE != 0.0 {
				t.Errorf("default rails: got vcc=%v vee=%v", s.VCC, s.VEE)
			}
			if s.VCCConnected || s.VEEConnected {
				t.Error("rails should be reported unconnected")
			}
		})
	}
}

func TestLinearRegionUsesLiveGain(t *testing.T) {
	h := newHarness(t)
	h.set(t, ParamGain, 10.5) // |10.5 - 100000| > 1: notification
	h.ports.inputs[PinInP] = 0.2
	h.ports.inputs[PinInN] = 0.1

	h.tick(t)

	want := (0.2 - 0.1) * 10.5
	if got := h.ports.lastOut(t); math.Abs(got-want) > 1e-12 {
		t.Errorf("out: expected %v, got %v", want, got)
	}
}

func TestGainBelowHysteresisStillUsedForOutput(t *testing.T) {
	h := newHarness(t)
	h.set(t, ParamGain, 100000.5)
	h.ports.inputs[PinInP] = 1e-5
	h.ports.inputs[PinInN] = 0

	h.tick(t)

	if len(h.eventsOf(EventGainChanged)) != 0 {
		t.Error("expected no gain notification for delta 0.5")
	}
	want := 1e-5 * 100000.5
	if got := h.ports.lastOut(t); math.Abs(got-want) > 1e-9 {
		t.Errorf("out should use live gain: expected %v, got %v", want, got)
	}
	if h.amp.State().LastGain != 100000 {
		t.Errorf("LastGain should be unchanged, got %v", h.amp.State().LastGain)
	}
}

func TestGainNotificationHysteresis(t *testing.T) {
	h := newHarness(t)

	h.set(t, ParamGain, 100000.5)
	h.tick(t)
	if n := len(h.eventsOf(EventGainChanged)); n != 0 {
		t.Fatalf("delta 0.5: expected 0 notifications, got %d", n)
	}

	h.set(t, ParamGain, 100002)
	h.tick(t)
	events := h.eventsOf(EventGainChanged)
	if len(events) != 1 {
		t.Fatalf("delta 2: expected 1 notification, got %d", len(events))
	}
	if events[0].Gain != 100002 {
		t.Errorf("notification gain: expected 100002, got %v", events[0].Gain)
	}

	// Repeated identical values never notify again.
	for i := 0; i < 5; i++ {
		h.tick(t)
	}
	if n := len(h.eventsOf(EventGainChanged)); n != 1 {
		t.Errorf("repeated gain: expected 1 notification total, got %d", n)
	}

	// Exactly 1.0 away is inside the band.
	h.set(t, ParamGain, 100003)
	h.tick(t)
	if n := len(h.eventsOf(EventGainChanged)); n != 1 {
		t.Errorf("delta 1.0: expected no new notification, got %d total", n)
	}
}

func TestPeriodChangeRearms(t *testing.T) {
	h := newHarness(t)
	h.sched.Reset()

	h.set(t, ParamPeriod, 25)
	h.tick(t)

	if len(h.sched.Calls) != 2 {
		t.Fatalf("expected cancel+arm, got %+v", h.sched.Calls)
	}
	if h.sched.Calls[0].Op != "cancel" || h.sched.Calls[1].Op != "arm" {
		t.Errorf("expected cancel then arm, got %+v", h.sched.Calls)
	}
	if h.sched.Calls[1].Interval != 25*time.Millisecond || !h.sched.Calls[1].Repeating {
		t.Errorf("rearm: got %+v", h.sched.Calls[1])
	}
	if h.sched.Armed() != 1 {
		t.Errorf("expected exactly one armed trigger, got %d", h.sched.Armed())
	}

	events := h.eventsOf(EventPeriodChanged)
	if len(events) != 1 || events[0].PeriodMs != 25 {
		t.Errorf("expected PERIOD_CHANGED(25), got %+v", events)
	}
	if h.amp.State().LastPeriodMs != 25 {
		t.Errorf("LastPeriodMs: expected 25, got %d", h.amp.State().LastPeriodMs)
	}
}

func TestUnchangedPeriodNeverRearms(t *testing.T) {
	h := newHarness(t)
	h.sched.Reset()

	for i := 0; i < 10; i++ {
		h.tick(t)
	}

	if len(h.sched.Calls) != 0 {
		t.Errorf("expected no scheduler calls, got %+v", h.sched.Calls)
	}
	if n := len(h.eventsOf(EventPeriodChanged)); n != 0 {
		t.Errorf("expected no PERIOD_CHANGED, got %d", n)
	}
	if h.amp.State().Counts.Ticks != 10 {
		t.Errorf("ticks: expected 10, got %d", h.amp.State().Counts.Ticks)
	}
}

func TestPeriodZeroCoercedToOne(t *testing.T) {
	h := newHarness(t)
	h.sched.Reset()

	h.set(t, ParamPeriod, 0)
	h.tick(t)

	arms := h.sched.Arms()
	if len(arms) != 1 || arms[0].Interval != time.Millisecond {
		t.Fatalf("expected rearm at 1ms, got %+v", arms)
	}
	if h.amp.State().PeriodMs != 1 {
		t.Errorf("effective period: expected 1, got %d", h.amp.State().PeriodMs)
	}

	// A later negative value maps to the same effective period: no rearm.
	h.sched.Reset()
	h.set(t, ParamPeriod, -7)
	h.tick(t)
	if len(h.sched.Calls) != 0 {
		t.Errorf("period -7 after 0: expected no rearm, got %+v", h.sched.Calls)
	}
}

func TestRailSenseInputs(t *testing.T) {
	h := newHarness(t)
	h.ports.inputs[PinVCC] = 12
	h.ports.inputs[PinVEE] = -12
	h.ports.inputs[PinInP] = 1
	h.ports.inputs[PinInN] = 0

	h.tick(t)
	if got := h.ports.lastOut(t); got != 12 {
		t.Errorf("high saturation: expected 12, got %v", got)
	}

	h.ports.inputs[PinInP] = 0
	h.ports.inputs[PinInN] = 1
	h.tick(t)
	if got := h.ports.lastOut(t); got != -12 {
		t.Errorf("low saturation: expected -12, got %v", got)
	}

	s := h.sink.samples[len(h.sink.samples)-1]
	if !s.VCCConnected || !s.VEEConnected {
		t.Error("rails should be reported connected")
	}
	if s.Saturation() != "LOW" {
		t.Errorf("saturation: expected LOW, got %q", s.Saturation())
	}
}

func TestZeroVoltRailIsNotDefault(t *testing.T) {
	h := newHarness(t)
	h.ports.inputs[PinVCC] = 0 // connected at 0V, not "use 5V"
	h.ports.inputs[PinInP] = 1

	h.tick(t)
	if got := h.ports.lastOut(t); got != 0 {
		t.Errorf("expected output clamped to connected 0V rail, got %v", got)
	}
}

func TestInvertedRailsYieldVCC(t *testing.T) {
	h := newHarness(t)
	h.ports.inputs[PinVCC] = 1
	h.ports.inputs[PinVEE] = 3

	for _, vinp := range []float64{-1, 0, 1} {
		h.ports.inputs[PinInP] = vinp
		h.tick(t)
		if got := h.ports.lastOut(t); got != 1 {
			t.Errorf("vinp=%v: expected vcc=1, got %v", vinp, got)
		}
	}
}

func TestUnconnectedPrimaryInputsReadZero(t *testing.T) {
	h := newHarness(t)
	h.tick(t)

	s := h.sink.samples[0]
	if s.VInP != 0 || s.VInN != 0 || s.Out != 0 {
		t.Errorf("expected zeros, got %+v", s)
	}
}

func TestSampleRecord(t *testing.T) {
	h := newHarness(t)
	h.ports.inputs[PinInP] = 2.501
	h.ports.inputs[PinInN] = 2.5

	h.tick(t)

	if len(h.sink.samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(h.sink.samples))
	}
	s := h.sink.samples[0]
	if s.VInP != 2.501 || s.VInN != 2.5 || s.Out != 5 || s.Gain != 100000 || s.PeriodMs != 10 {
		t.Errorf("sample: got %+v", s)
	}
	if s.Saturation() != "HIGH" {
		t.Errorf("saturation: expected HIGH, got %q", s.Saturation())
	}
	if !s.Timestamp.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp: got %v", s.Timestamp)
	}
	if h.amp.State().Last != s {
		t.Error("State().Last should match the emitted sample")
	}
}

func TestCloseCancelsTrigger(t *testing.T) {
	h := newHarness(t)
	h.amp.Close()

	if h.sched.Armed() != 0 {
		t.Errorf("expected no armed triggers after Close, got %d", h.sched.Armed())
	}
	if n := h.sched.Fire(); n != 0 {
		t.Errorf("expected nothing to fire after Close, got %d", n)
	}
}

func TestNilSinkAndClock(t *testing.T) {
	f := sched.NewFake()
	a := New(DefaultConfig(), Deps{Params: params.NewStore(), Ports: newTestPorts(), Scheduler: f})
	f.Fire()
	if a.State().Last.Timestamp.IsZero() {
		t.Error("expected default clock to stamp samples")
	}
}

func TestConfigPeriodFloor(t *testing.T) {
	f := sched.NewFake()
	cfg := DefaultConfig()
	cfg.PeriodMs = 0
	a := New(cfg, Deps{Params: params.NewStore(), Ports: newTestPorts(), Scheduler: f})

	if a.Config().PeriodMs != 1 {
		t.Errorf("expected configured period floored to 1, got %d", a.Config().PeriodMs)
	}
	if arms := f.Arms(); arms[0].Interval != time.Millisecond {
		t.Errorf("expected initial arm at 1ms, got %v", arms[0].Interval)
	}
}

func TestEffectivePeriod(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-100, 1},
		{-1, 1},
		{0, 1},
		{0.9, 1},
		{1, 1},
		{1.9, 1},
		{10, 10},
		{250, 250},
		{math.NaN(), 1},
		{math.Inf(1), math.MaxInt32},
	}
	for _, tt := range tests {
		if got := EffectivePeriod(tt.in); got != tt.want {
			t.Errorf("EffectivePeriod(%v): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestSaturateWithinRails(t *testing.T) {
	rails := [][2]float64{{0, 5}, {-12, 12}, {-5, -1}, {3.3, 3.3}}
	raws := []float64{-1e9, -12.1, -1, 0, 0.5, 3.3, 4.99, 5, 1e9}

	for _, r := range rails {
		vee, vcc := r[0], r[1]
		for _, raw := range raws {
			out := Saturate(raw, vee, vcc)
			if out < vee || out > vcc {
				t.Errorf("Saturate(%v, %v, %v) = %v out of rails", raw, vee, vcc, out)
			}
			if raw >= vee && raw <= vcc && out != raw {
				t.Errorf("Saturate(%v, %v, %v) = %v, expected passthrough", raw, vee, vcc, out)
			}
		}
	}
}

func TestAmplify(t *testing.T) {
	for _, tt := range []struct{ p, n, g float64 }{
		{1, 0, 2}, {0, 1, 2}, {2.5, 2.5, 1e5}, {-3, 4, -0.5},
	} {
		if got, want := Amplify(tt.p, tt.n, tt.g), (tt.p-tt.n)*tt.g; got != want {
			t.Errorf("Amplify(%v, %v, %v) = %v, want %v", tt.p, tt.n, tt.g, got, want)
		}
	}
}

func TestGainChanged(t *testing.T) {
	tests := []struct {
		gain, last float64
		want       bool
	}{
		{100000, 100000, false},
		{100000.5, 100000, false},
		{100001, 100000, false},
		{100001.01, 100000, true},
		{99998, 100000, true},
		{-5, 5, true},
	}
	for _, tt := range tests {
		if got := GainChanged(tt.gain, tt.last); got != tt.want {
			t.Errorf("GainChanged(%v, %v): expected %v, got %v", tt.gain, tt.last, tt.want, got)
		}
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiSink{a, b}
	m.Event(Event{Type: EventGainChanged})
	m.Sample(Sample{Out: 1})

	for i, r := range []*recordingSink{a, b} {
		if len(r.events) != 1 || len(r.samples) != 1 {
			t.Errorf("sink %d: got %d events, %d samples", i, len(r.events), len(r.samples))
		}
	}
}
