// Package sched provides the periodic scheduling facility that drives the amplifier.
//
// Every armed registration is backed by its own ticker goroutine, but callbacks are
// never run there: tickers only forward their Handle to a shared channel, and the
// owner of the Loop runs callbacks one at a time via Dispatch (or Run). This keeps
// delivery serial, and a registration cancelled from inside a callback can never
// fire again, even if its ticker already queued a tick.
package sched

import (
	"context"
	"sync"
	"time"
)

// Handle identifies one armed registration. The zero Handle is never issued.
type Handle uint64

type registration struct {
	interval  time.Duration
	repeating bool
	cb        func()
	stop      chan struct{}
}

// Loop is a serial timer dispatcher.
type Loop struct {
	mu     sync.Mutex
	next   Handle
	regs   map[Handle]*registration
	fire   chan Handle
	closed bool
}

// NewLoop creates an empty Loop.
func NewLoop() *Loop {
	return &Loop{
		regs: make(map[Handle]*registration),
		fire: make(chan Handle, 1),
	}
}

// Arm registers cb to be dispatched after interval, and every interval afterwards
// if repeating is set. Intervals below one millisecond are raised to one millisecond.
func (l *Loop) Arm(interval time.Duration, repeating bool, cb func()) Handle {
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	h := l.next
	r := &registration{
		interval:  interval,
		repeating: repeating,
		cb:        cb,
		stop:      make(chan struct{}),
	}
	l.regs[h] = r
	if !l.closed {
		go l.tick(h, r)
	}
	return h
}

// tick forwards fires for one registration until it is stopped.
func (l *Loop) tick(h Handle, r *registration) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			select {
			case l.fire <- h:
			case <-r.stop:
				return
			}
			if !r.repeating {
				return
			}
		}
	}
}

// Cancel stops a registration. Cancelling an unknown or already cancelled handle
// is a no-op.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.regs[h]
	if !ok {
		return
	}
	delete(l.regs, h)
	close(r.stop)
}

// C delivers the handles of registrations that are due.
func (l *Loop) C() <-chan Handle {
	return l.fire
}

// Dispatch runs the callback for h on the calling goroutine. It reports false if h
// was cancelled after its tick was queued.
func (l *Loop) Dispatch(h Handle) bool {
	l.mu.Lock()
	r, ok := l.regs[h]
	if ok && !r.repeating {
		delete(l.regs, h)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}
	r.cb()
	return true
}

// Run dispatches due registrations until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h := <-l.fire:
			l.Dispatch(h)
		}
	}
}

// Armed returns the number of live registrations.
func (l *Loop) Armed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regs)
}

// Close cancels every registration. Registrations armed afterwards never fire.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, r := range l.regs {
		delete(l.regs, h)
		close(r.stop)
	}
	l.closed = true
}
