// Package bus defines the pub/sub transport contract the ingest loop and
// encoder workers consume (spec §1, §6). The transport itself is an
// external collaborator — recorderd only needs a topic-subscribable bus
// whose readiness can be observed without blocking indefinitely.
//
// internal/bus/mqtt.go supplies one concrete adapter over
// paho.mqtt.golang. Swapping in a raw-socket or ZeroMQ adapter later only
// means implementing Subscriber/Publisher; nothing in internal/ingest or
// internal/encoder depends on the transport's wire details.
package bus

// Message is one inbound event, opaque to the core (spec §3): recorderd
// never parses Payload except for the two narrow projections in
// internal/ingest (frame id extraction and timestamp patch).
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber delivers inbound messages for one topic. Messages is a
// buffered channel: the ingest loop forwards every Subscriber's channel
// into one merged channel (one goroutine per subscription) and selects on
// that channel together with a 100ms ticker, handling one message per
// wake-up — the idiomatic-Go analogue of poll(2) against one fd per
// socket, without the ingest loop ever needing raw fds.
type Subscriber interface {
	Topic() string
	Messages() <-chan Message
	Close() error
}

// Publisher publishes to a named topic. Used by encoder workers to emit
// encode-index events (spec §4.3, §6).
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// Bus is the full contract: it can mint subscribers and publishers and
// backs off reconnect attempts on its own (spec §6: "reconnect back-off
// is capped at 500ms").
type Bus interface {
	Subscribe(topic string) (Subscriber, error)
	Publisher() Publisher
	Close() error
}
