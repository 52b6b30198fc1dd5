package bus

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// reconnectBackoffCap matches spec §6: "reconnect back-off is capped at
// 500ms", the same cap the original applied to its ZeroMQ sockets via
// ZMQ_RECONNECT_IVL_MAX.
const reconnectBackoffCap = 500 * time.Millisecond

// MQTTBus is the concrete pub/sub adapter backing recorderd's bus.Bus
// contract, built on paho.mqtt.golang — the same client library the
// teacher daemon uses for its control plane and inference emitter. A
// service_list.yaml entry's name becomes the MQTT topic suffix (its port
// is not used for addressing), but the subscribe/publish/reconnect
// semantics are unchanged from spec §6.
type MQTTBus struct {
	client mqtt.Client
	prefix string
}

// NewMQTTBus connects to broker (host:port, no scheme) and returns a Bus
// whose topics are namespaced under prefix (e.g. "recorder").
func NewMQTTBus(broker, clientID, prefix string) (*MQTTBus, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(reconnectBackoffCap)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(100 * time.Millisecond)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("bus connection lost, reconnecting",
			"error", err,
			"max_backoff", reconnectBackoffCap,
		)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("bus: connect timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: connect to %s: %w", broker, err)
	}

	return &MQTTBus{client: client, prefix: prefix}, nil
}

func (b *MQTTBus) topicPath(topic string) string {
	return b.prefix + "/" + topic
}

// Subscribe registers a new subscriber for topic. The returned
// Subscriber's channel is fed asynchronously by paho's own callback
// goroutine; recorderd polls it with a select/timeout rather than
// blocking on a raw fd.
func (b *MQTTBus) Subscribe(topic string) (Subscriber, error) {
	sub := &mqttSubscriber{topic: topic, ch: make(chan Message, 64)}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case sub.ch <- Message{Topic: topic, Payload: msg.Payload()}:
		default:
			slog.Warn("bus subscriber channel full, dropping message", "topic", topic)
		}
	}

	token := b.client.Subscribe(b.topicPath(topic), 0, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("bus: subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: subscribe to %s: %w", topic, err)
	}

	return sub, nil
}

// Publisher returns a Publisher bound to this bus's connection.
func (b *MQTTBus) Publisher() Publisher {
	return &mqttPublisher{bus: b}
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

type mqttSubscriber struct {
	topic string
	ch    chan Message
}

func (s *mqttSubscriber) Topic() string             { return s.topic }
func (s *mqttSubscriber) Messages() <-chan Message { return s.ch }
func (s *mqttSubscriber) Close() error              { return nil }

type mqttPublisher struct {
	bus *MQTTBus
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.bus.client.Publish(p.bus.topicPath(topic), 0, false, payload)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) Close() error { return nil }
