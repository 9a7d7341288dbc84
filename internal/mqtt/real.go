package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sweeney/opamp-chip/internal/amp"
)

// DefaultBufferSize is the number of notifications held while disconnected.
const DefaultBufferSize = 1000

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string // empty generates "opamp-chip-<uuid>"
	Username   string
	Password   string
	Topics     Topics
	Inbound    Inbound // subscriptions are only made for non-nil targets
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client  paho.Client
	topics  Topics
	inbound Inbound

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool // true once the first connection succeeded
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// cannot be reached within the connect timeout the client keeps retrying in
// the background and notifications are buffered until it connects.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Topics.Prefix == "" {
		o.Topics = NewTopics("")
	}
	if o.ClientID == "" {
		o.ClientID = "opamp-chip-" + uuid.NewString()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics:  o.Topics,
		inbound: o.Inbound,
		buffer:  newRingBuffer(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWriteTimeout(2*time.Second).
		SetBinaryWill(o.Topics.System(), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: %s not reachable yet, retrying in background", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	if p.inbound.Params != nil {
		p.subscribe(c, p.topics.ParamsFilter())
	}
	if p.inbound.Pins != nil {
		p.subscribe(c, p.topics.PinsFilter())
	}

	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, token.Error())
		}
	}

	if reconnect {
		log.Printf("mqtt: reconnected")
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
}

func (p *RealPublisher) subscribe(c paho.Client, filter string) {
	token := c.Subscribe(filter, 1, p.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: subscribe %s: timeout", filter)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", filter, err)
	}
}

func (p *RealPublisher) onMessage(_ paho.Client, m paho.Message) {
	if err := p.topics.Apply(p.inbound, m.Topic(), m.Payload()); err != nil {
		log.Printf("mqtt: ignoring %s: %v", m.Topic(), err)
	}
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// send hands msg to the client. Messages marked durable are buffered while
// disconnected; the rest are dropped. Callers that must not stall wrap the
// publisher in an AsyncPublisher.
func (p *RealPublisher) send(msg bufferedMsg, durable bool) error {
	if !p.client.IsConnectionOpen() {
		if durable {
			p.mu.Lock()
			p.buffer.push(msg)
			p.mu.Unlock()
		}
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if durable {
		go func() {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				log.Printf("mqtt: publish %s: %v", msg.topic, token.Error())
			}
		}()
	}
	return nil
}

// Publish sends a change notification to the MQTT broker.
func (p *RealPublisher) Publish(event amp.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once): a dashboard should not miss a gain change
	return p.send(bufferedMsg{topic: p.topics.Events(), payload: payload, qos: 1}, true)
}

// PublishSample sends one diagnostic record. Dropped while offline.
func (p *RealPublisher) PublishSample(sample amp.Sample) error {
	payload, err := FormatSample(sample)
	if err != nil {
		return fmt.Errorf("format sample: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.Samples(), payload: payload}, false)
}

// PublishOutput sends the output voltage. Dropped while offline.
func (p *RealPublisher) PublishOutput(v float64) error {
	return p.send(bufferedMsg{topic: p.topics.Output(), payload: FormatVoltage(v)}, false)
}

// PublishSystem sends a system lifecycle event to the MQTT broker and waits
// for delivery. Buffered while offline.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	msg := bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained}
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)
