package amp

import (
	"math"
	"time"

	"github.com/sweeney/opamp-chip/internal/sched"
)

// Amplifier is one sampled op-amp instance. It is driven by its own scheduler
// registration and must only be stepped from the scheduler's dispatch goroutine.
type Amplifier struct {
	cfg    Config
	params Params
	ports  Ports
	sched  Scheduler
	sink   Sink
	now    func() time.Time

	timer sched.Handle
	state State
}

// New registers the amplifier's pins and parameters and arms its trigger at the
// default period. Each trigger calls Step.
func New(cfg Config, deps Deps) *Amplifier {
	if cfg.PeriodMs < 1 {
		cfg.PeriodMs = 1
	}
	a := &Amplifier{
		cfg:    cfg,
		params: deps.Params,
		ports:  deps.Ports,
		sched:  deps.Scheduler,
		sink:   deps.Sink,
		now:    deps.Now,
		state: State{
			Gain:         cfg.Gain,
			PeriodMs:     cfg.PeriodMs,
			LastGain:     cfg.Gain,
			LastPeriodMs: cfg.PeriodMs,
		},
	}
	if a.sink == nil {
		a.sink = discard{}
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.ports.Register(PinInP, Input)
	a.ports.Register(PinInN, Input)
	a.ports.Register(PinOut, Output)
	a.ports.Register(PinVCC, OptionalInput)
	a.ports.Register(PinVEE, OptionalInput)

	a.params.Register(ParamGain, cfg.Gain)
	a.params.Register(ParamPeriod, float64(cfg.PeriodMs))

	a.timer = a.sched.Arm(periodDuration(cfg.PeriodMs), true, a.Step)
	return a
}

// Step performs one update: parameter reload, trigger reconfiguration, input
// sampling, amplification, saturation and output.
func (a *Amplifier) Step() {
	now := a.now()

	gain := a.params.Read(ParamGain)
	period := EffectivePeriod(a.params.Read(ParamPeriod))
	a.state.Gain = gain
	a.state.PeriodMs = period
	a.state.Counts.Ticks++

	if period != a.state.LastPeriodMs {
		a.sched.Cancel(a.timer)
		a.timer = a.sched.Arm(periodDuration(period), true, a.Step)
		a.state.LastPeriodMs = period
		a.state.Counts.PeriodChanges++
		a.sink.Event(Event{Timestamp: now, Type: EventPeriodChanged, Gain: gain, PeriodMs: period})
	}

	if GainChanged(gain, a.state.LastGain) {
		a.state.LastGain = gain
		a.state.Counts.GainChanges++
		a.sink.Event(Event{Timestamp: now, Type: EventGainChanged, Gain: gain, PeriodMs: period})
	}

	// Unconnected primary inputs read as 0V.
	vinp, _ := a.ports.Read(PinInP)
	vinn, _ := a.ports.Read(PinInN)

	vcc, vccOK := a.ports.Read(PinVCC)
	if !vccOK {
		vcc = a.cfg.VCC
	}
	vee, veeOK := a.ports.Read(PinVEE)
	if !veeOK {
		vee = a.cfg.VEE
	}

	raw := Amplify(vinp, vinn, gain)
	out := Saturate(raw, vee, vcc)
	a.ports.Write(PinOut, out)

	s := Sample{
		Timestamp:    now,
		VInP:         vinp,
		VInN:         vinn,
		VCC:          vcc,
		VEE:          vee,
		VCCConnected: vccOK,
		VEEConnected: veeOK,
		Raw:          raw,
		Out:          out,
		Gain:         gain,
		PeriodMs:     period,
	}
	a.state.Last = s
	a.sink.Sample(s)
}

// State returns a copy of the current state.
func (a *Amplifier) State() State {
	return a.state
}

// Config returns the defaults the amplifier was created with.
func (a *Amplifier) Config() Config {
	return a.cfg
}

// Close cancels the amplifier's trigger.
func (a *Amplifier) Close() {
	a.sched.Cancel(a.timer)
}

// EffectivePeriod converts a raw period parameter to whole milliseconds.
// Fractions are truncated toward zero; anything below 1 (including NaN) becomes 1.
func EffectivePeriod(p float64) int {
	if math.IsNaN(p) || p < 1 {
		return 1
	}
	if p > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(p)
}

// Amplify returns the unclamped output (vinp - vinn) * gain.
func Amplify(vinp, vinn, gain float64) float64 {
	return (vinp - vinn) * gain
}

// Saturate clamps raw to [vee, vcc]. The low rail is applied first, so inverted
// rails (vee > vcc) always yield vcc.
func Saturate(raw, vee, vcc float64) float64 {
	return math.Min(math.Max(raw, vee), vcc)
}

// GainChanged reports whether gain differs from last by more than GainHysteresis.
func GainChanged(gain, last float64) bool {
	return math.Abs(gain-last) > GainHysteresis
}

func periodDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
