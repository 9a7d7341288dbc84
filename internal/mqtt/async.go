package mqtt

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// DefaultQueueSize is the number of outgoing messages held per queue while the
// broker connection is slow.
const DefaultQueueSize = 256

// closeTimeout bounds how long Close waits for queued notifications.
const closeTimeout = 10 * time.Second

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

type job struct {
	what string
	fn   func() error
}

// AsyncPublisher hands every message to a single publishing goroutine so the
// caller never waits on the broker. Change notifications and system events go
// through a durable queue that is flushed on Close; samples and output voltages
// go through a lossy queue and are dropped when it is full.
type AsyncPublisher struct {
	inner   Publisher
	durable chan job
	lossy   chan job
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	dropped uint64
	warned  bool // cleared once both queues drain
}

// NewAsyncPublisher starts the publishing goroutine. size <= 0 uses
// DefaultQueueSize.
func NewAsyncPublisher(inner Publisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	p := &AsyncPublisher{
		inner:   inner,
		durable: make(chan job, size),
		lossy:   make(chan job, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for {
		// durable messages first
		select {
		case j := <-p.durable:
			p.exec(j)
			continue
		default:
		}

		select {
		case j := <-p.durable:
			p.exec(j)
		case j := <-p.lossy:
			p.exec(j)
		case <-p.stop:
			for {
				select {
				case j := <-p.durable:
					p.exec(j)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) exec(j job) {
	if err := j.fn(); err != nil {
		log.Printf("mqtt: publish %s: %v", j.what, err)
	}
	if len(p.durable) == 0 && len(p.lossy) == 0 {
		p.mu.Lock()
		p.warned = false
		p.mu.Unlock()
	}
}

func (p *AsyncPublisher) enqueue(q chan job, j job) error {
	select {
	case <-p.stop:
		return ErrClosed
	default:
	}

	select {
	case q <- j:
		return nil
	default:
	}

	p.mu.Lock()
	p.dropped++
	warn := !p.warned
	p.warned = true
	p.mu.Unlock()
	if warn {
		log.Printf("mqtt: outgoing queue full, dropping %s", j.what)
	}
	return nil
}

// Publish queues a change notification.
func (p *AsyncPublisher) Publish(event amp.Event) error {
	return p.enqueue(p.durable, job{what: string(event.Type), fn: func() error {
		return p.inner.Publish(event)
	}})
}

// PublishSample queues a diagnostic record.
func (p *AsyncPublisher) PublishSample(sample amp.Sample) error {
	return p.enqueue(p.lossy, job{what: "sample", fn: func() error {
		return p.inner.PublishSample(sample)
	}})
}

// PublishOutput queues an output voltage.
func (p *AsyncPublisher) PublishOutput(v float64) error {
	return p.enqueue(p.lossy, job{what: "output", fn: func() error {
		return p.inner.PublishOutput(v)
	}})
}

// PublishSystem queues a system lifecycle event.
func (p *AsyncPublisher) PublishSystem(event SystemEvent) error {
	return p.enqueue(p.durable, job{what: event.Event, fn: func() error {
		return p.inner.PublishSystem(event)
	}})
}

// IsConnected reports the wrapped publisher's connection state.
func (p *AsyncPublisher) IsConnected() bool {
	if cs, ok := p.inner.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

// Close stops accepting messages, flushes queued notifications and closes the
// wrapped publisher. Queued samples and outputs are discarded.
func (p *AsyncPublisher) Close() error {
	p.once.Do(func() { close(p.stop) })

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		log.Printf("mqtt: gave up flushing %d queued notifications", len(p.durable))
	}

	p.mu.Lock()
	dropped := p.dropped
	p.mu.Unlock()
	if dropped > 0 {
		log.Printf("mqtt: dropped %d messages while the broker was slow", dropped)
	}
	return p.inner.Close()
}

var (
	_ Publisher        = (*AsyncPublisher)(nil)
	_ ConnectionStatus = (*AsyncPublisher)(nil)
)
