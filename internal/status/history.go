package status

import "github.com/sweeney/opamp-chip/internal/amp"

// ring is a fixed-capacity FIFO of samples that overwrites the oldest entry.
// Not safe for concurrent use; the caller must synchronize.
type ring struct {
	buf   []amp.Sample
	head  int // next write position
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]amp.Sample, capacity)}
}

func (r *ring) push(s amp.Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// items returns the samples oldest first.
func (r *ring) items() []amp.Sample {
	out := make([]amp.Sample, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
