package sched

import "time"

// Call records one Arm or Cancel made against a Fake.
type Call struct {
	Op        string // "arm" or "cancel"
	Handle    Handle
	Interval  time.Duration
	Repeating bool
}

// Fake is a test double that records registrations and fires them on demand.
type Fake struct {
	// Calls contains every Arm and Cancel in order.
	Calls []Call

	next Handle
	regs map[Handle]*registration
	fire chan Handle
}

// NewFake creates a Fake with no registrations.
func NewFake() *Fake {
	return &Fake{
		regs: make(map[Handle]*registration),
		fire: make(chan Handle, 16),
	}
}

// Arm records the registration. Nothing fires until Fire or Queue is called.
func (f *Fake) Arm(interval time.Duration, repeating bool, cb func()) Handle {
	f.next++
	h := f.next
	f.regs[h] = &registration{interval: interval, repeating: repeating, cb: cb}
	f.Calls = append(f.Calls, Call{Op: "arm", Handle: h, Interval: interval, Repeating: repeating})
	return h
}

// Cancel records the cancellation and forgets the registration.
func (f *Fake) Cancel(h Handle) {
	f.Calls = append(f.Calls, Call{Op: "cancel", Handle: h})
	delete(f.regs, h)
}

// Fire dispatches every live registration once, in handle order.
// Registrations armed by a callback during Fire wait for the next call.
// Returns the number of callbacks run.
func (f *Fake) Fire() int {
	n := 0
	last := f.next
	for h := Handle(1); h <= last; h++ {
		if f.Dispatch(h) {
			n++
		}
	}
	return n
}

// Queue pushes the handle of every live registration onto C, for code that
// drives the Fake through a select loop.
func (f *Fake) Queue() {
	for h := Handle(1); h <= f.next; h++ {
		if _, ok := f.regs[h]; ok {
			f.fire <- h
		}
	}
}

// C returns the channel filled by Queue.
func (f *Fake) C() <-chan Handle {
	return f.fire
}

// Dispatch runs the callback for h if it is still registered.
func (f *Fake) Dispatch(h Handle) bool {
	r, ok := f.regs[h]
	if !ok {
		return false
	}
	if !r.repeating {
		delete(f.regs, h)
	}
	r.cb()
	return true
}

// Armed returns the number of live registrations.
func (f *Fake) Armed() int {
	return len(f.regs)
}

// Interval returns the interval of a live registration.
func (f *Fake) Interval(h Handle) (time.Duration, bool) {
	r, ok := f.regs[h]
	if !ok {
		return 0, false
	}
	return r.interval, true
}

// Arms returns the recorded Arm calls.
func (f *Fake) Arms() []Call {
	var out []Call
	for _, c := range f.Calls {
		if c.Op == "arm" {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls but keeps live registrations.
func (f *Fake) Reset() {
	f.Calls = nil
}
