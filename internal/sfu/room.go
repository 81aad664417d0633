package sfu

import (
	"sync"

	"github.com/dd-25/Meetup/internal/media"
)

// Direction distinguishes the two transports a client may own in a room.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type transportKey struct {
	clientID  string
	direction Direction
}

type ownedProducer struct {
	producer media.Producer
	clientID string
}

type ownedConsumer struct {
	consumer media.Consumer
	clientID string
}

// Room owns the live resource handles for one SFU room on this instance.
// The presence store owns the cross-instance existence and activity record.
// All map mutations go through mu; engine I/O happens outside it.
type Room struct {
	id     string
	teamID string
	router media.Router

	mu         sync.Mutex
	transports map[transportKey]media.Transport
	producers  map[string]ownedProducer
	consumers  map[string]ownedConsumer
}

func newRoom(id, teamID string, router media.Router) *Room {
	return &Room{
		id:         id,
		teamID:     teamID,
		router:     router,
		transports: make(map[transportKey]media.Transport),
		producers:  make(map[string]ownedProducer),
		consumers:  make(map[string]ownedConsumer),
	}
}

func (r *Room) ID() string { return r.id }

// transport returns the transport for a (client, direction) key.
func (r *Room) transport(clientID string, dir Direction) (media.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transportKey{clientID: clientID, direction: dir}]
	return t, ok
}

// transportByID scans the room for a transport with the given id.
func (r *Room) transportByID(id string) (media.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transports {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// putTransport installs a transport for a key and returns any stale entry it
// replaced so the caller can close it outside the lock.
func (r *Room) putTransport(clientID string, dir Direction, t media.Transport) media.Transport {
	key := transportKey{clientID: clientID, direction: dir}
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.transports[key]
	r.transports[key] = t
	return old
}

func (r *Room) putProducer(p media.Producer, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID()] = ownedProducer{producer: p, clientID: clientID}
}

func (r *Room) putConsumer(c media.Consumer, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[c.ID()] = ownedConsumer{consumer: c, clientID: clientID}
}

func (r *Room) consumerByID(id string) (media.Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	return c.consumer, ok
}

// producerIDs returns the ids of producers not owned by excludeClientID.
func (r *Room) producerIDs(excludeClientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.producers))
	for id, p := range r.producers {
		if p.clientID == excludeClientID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// clientResources detaches every resource owned by a client and reports
// whether the room is empty afterwards. The caller closes the returned
// handles outside the lock.
func (r *Room) clientResources(clientID string) (resources []interface{ Close() error }, producerIDs []string, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.producers {
		if p.clientID != clientID {
			continue
		}
		resources = append(resources, p.producer)
		producerIDs = append(producerIDs, id)
		delete(r.producers, id)
	}

	for id, c := range r.consumers {
		if c.clientID != clientID {
			continue
		}
		resources = append(resources, c.consumer)
		delete(r.consumers, id)
	}

	for _, dir := range []Direction{DirectionSend, DirectionRecv} {
		key := transportKey{clientID: clientID, direction: dir}
		if t, ok := r.transports[key]; ok {
			resources = append(resources, t)
			delete(r.transports, key)
		}
	}

	empty = len(r.transports) == 0 && len(r.producers) == 0 && len(r.consumers) == 0
	return resources, producerIDs, empty
}

// allResources detaches everything in the room for teardown.
func (r *Room) allResources() []interface{ Close() error } {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resources []interface{ Close() error }
	for _, c := range r.consumers {
		resources = append(resources, c.consumer)
	}
	for _, p := range r.producers {
		resources = append(resources, p.producer)
	}
	for _, t := range r.transports {
		resources = append(resources, t)
	}

	r.consumers = make(map[string]ownedConsumer)
	r.producers = make(map[string]ownedProducer)
	r.transports = make(map[transportKey]media.Transport)

	return resources
}
