package mqtt

import (
	"log"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// Sink forwards amplifier notifications to a Publisher. Publish errors are
// logged and never reach the update step.
type Sink struct {
	Publisher Publisher
	Samples   bool // also publish every diagnostic record
}

// Event publishes a change notification.
func (s Sink) Event(e amp.Event) {
	if err := s.Publisher.Publish(e); err != nil {
		log.Printf("mqtt: publish %s: %v", e.Type, err)
	}
}

// Sample publishes the diagnostic record when enabled.
func (s Sink) Sample(x amp.Sample) {
	if !s.Samples {
		return
	}
	if err := s.Publisher.PublishSample(x); err != nil {
		log.Printf("mqtt: publish sample: %v", err)
	}
}

var _ amp.Sink = Sink{}
