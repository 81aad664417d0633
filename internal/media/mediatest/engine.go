// Package mediatest provides an in-memory media.Engine for tests: no
// network, no negotiation, just bookkeeping with the same contract.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dd-25/Meetup/internal/media"
)

type Engine struct {
	mu      sync.Mutex
	routers int
	done    chan error
}

func NewEngine() *Engine {
	return &Engine{done: make(chan error, 1)}
}

func (e *Engine) Init(context.Context) error { return nil }
func (e *Engine) Done() <-chan error         { return e.done }
func (e *Engine) Close() error               { return nil }

// Fail makes Done report an unrecoverable engine loss.
func (e *Engine) Fail(err error) { e.done <- err }

func (e *Engine) CreateRouter(context.Context) (media.Router, error) {
	e.mu.Lock()
	e.routers++
	id := e.routers
	e.mu.Unlock()
	return &Router{id: fmt.Sprintf("router-%d", id), producers: make(map[string]media.Kind)}, nil
}

// RouterCount reports how many routers have been allocated.
func (e *Engine) RouterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routers
}

type Router struct {
	id     string
	seq    atomic.Int64
	closed atomic.Bool

	mu        sync.Mutex
	producers map[string]media.Kind
}

func (r *Router) CreateTransport(context.Context) (media.Transport, error) {
	return &Transport{
		id:     fmt.Sprintf("%s-transport-%d", r.id, r.seq.Add(1)),
		router: r,
	}, nil
}

func (r *Router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok && len(caps.Codecs) > 0
}

func (r *Router) RTPCapabilities() media.RTPCapabilities {
	return media.RTPCapabilities{Codecs: []media.CodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func (r *Router) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *Router) Closed() bool { return r.closed.Load() }

type Transport struct {
	id        string
	router    *Router
	connected atomic.Bool
	closed    atomic.Bool
	seq       atomic.Int64
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() media.TransportParams {
	return media.TransportParams{ID: t.id, SDP: "v=0 offer"}
}

func (t *Transport) Connect(_ context.Context, params media.ConnectParams) error {
	if params.SDP == "" {
		return fmt.Errorf("empty answer")
	}
	t.connected.Store(true)
	return nil
}

func (t *Transport) Connected() bool { return t.connected.Load() }
func (t *Transport) Closed() bool    { return t.closed.Load() }

func (t *Transport) Produce(_ context.Context, kind media.Kind, _ media.RTPParameters) (media.Producer, error) {
	p := &Producer{id: fmt.Sprintf("%s-producer-%d", t.id, t.seq.Add(1)), kind: kind}
	t.router.mu.Lock()
	t.router.producers[p.id] = kind
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerID string, _ media.RTPCapabilities) (media.Consumer, error) {
	t.router.mu.Lock()
	kind, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}
	return &Consumer{
		id:         fmt.Sprintf("%s-consumer-%d", t.id, t.seq.Add(1)),
		producerID: producerID,
		kind:       kind,
	}, nil
}

func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}

type Producer struct {
	id     string
	kind   media.Kind
	closed atomic.Bool
}

func (p *Producer) ID() string       { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }
func (p *Producer) Close() error {
	p.closed.Store(true)
	return nil
}
func (p *Producer) Closed() bool { return p.closed.Load() }

type Consumer struct {
	id         string
	producerID string
	kind       media.Kind
	resumed    atomic.Bool
	closed     atomic.Bool
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() media.Kind   { return c.kind }
func (c *Consumer) RTPParameters() media.RTPParameters {
	return media.RTPParameters{Codecs: []media.CodecCapability{{MimeType: "audio/opus", ClockRate: 48000}}}
}
func (c *Consumer) Resume() error {
	c.resumed.Store(true)
	return nil
}
func (c *Consumer) Resumed() bool { return c.resumed.Load() }
func (c *Consumer) Close() error {
	c.closed.Store(true)
	return nil
}
