package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// bufferCapacity bounds how many messages are held while the broker is
// unreachable. At the default heartbeat this is over a day of telemetry.
const bufferCapacity = 100

var errNotConnected = errors.New("mqtt: not connected")

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buffer    *outbox
	connected bool
	everUp    bool
}

// ClientID returns a broker client id unique to this process.
func ClientID() string {
	return "burner-controller-" + uuid.NewString()[:8]
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is made in the background and retried until it succeeds, so startup never
// blocks on the broker.
func NewRealPublisher(broker string) *RealPublisher {
	p := &RealPublisher{buffer: newOutbox(bufferCapacity)}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	slog.Info("mqtt: connected", "replaying", len(pending))
	for _, msg := range pending {
		if err := p.send(msg); err != nil {
			slog.Warn("mqtt: replay failed", "topic", msg.topic, "err", err)
			p.mu.Lock()
			p.buffer.push(msg)
			p.mu.Unlock()
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
			slog.Warn("mqtt: publish reconnected event", "err", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	slog.Warn("mqtt: connection lost", "err", err)
}

// PublishTelemetry sends a telemetry reading to the MQTT broker.
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	payload, err := FormatTelemetry(t)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: TopicTelemetry, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// publish sends msg now or buffers it for replay. A buffered message is
// not an error.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.send(msg); err != nil {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		return errNotConnected
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
