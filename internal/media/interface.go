// Package media defines the capability surface the session registry needs
// from the underlying media engine. The engine is opaque: the rest of the
// system only creates routers, transports, producers and consumers through
// these interfaces and never touches codec negotiation internals.
package media

import "context"

// Engine provides per-room routers. Init must complete before any signaling
// operation is served; Done reports unrecoverable engine loss, which is fatal
// to the process because in-flight sessions cannot be rebuilt in place.
type Engine interface {
	Init(ctx context.Context) error
	CreateRouter(ctx context.Context) (Router, error)
	Done() <-chan error
	Close() error
}

// Router is the per-room capability context.
type Router interface {
	CreateTransport(ctx context.Context) (Transport, error)

	// CanConsume reports whether a client with the given capabilities can
	// receive the identified producer.
	CanConsume(producerID string, caps RTPCapabilities) bool

	// RTPCapabilities returns the router's supported capabilities, which a
	// client needs before it can declare what it consumes.
	RTPCapabilities() RTPCapabilities

	Close() error
}

// Transport is a negotiated network path over which media is sent or
// received.
type Transport interface {
	ID() string

	// Params returns what the client needs to complete ICE/DTLS setup.
	Params() TransportParams

	// Connect applies the client's ICE/DTLS answer.
	Connect(ctx context.Context, params ConnectParams) error

	Produce(ctx context.Context, kind Kind, rtp RTPParameters) (Producer, error)
	Consume(ctx context.Context, producerID string, caps RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is an outbound media track attached to a transport.
type Producer interface {
	ID() string
	Kind() Kind
	Close() error
}

// Consumer is an inbound media track attached to a transport.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RTPParameters() RTPParameters
	Resume() error
	Close() error
}
