// Package sfu owns the in-process room state: router handles plus the
// transport/producer/consumer collections of every client connected through
// this instance. Cross-instance existence and activity live in the presence
// store; a room can therefore be rehydrated here after another instance (or
// a restart) created it.
package sfu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/media"
	"github.com/dd-25/Meetup/internal/presence"
	"github.com/dd-25/Meetup/pkg/log"
)

// ConsumerParams is returned to the consuming client.
type ConsumerParams struct {
	ID            string              `json:"id"`
	ProducerID    string              `json:"producerId"`
	Kind          media.Kind          `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

// Registry tracks rooms and their resources for this instance.
type Registry struct {
	engine media.Engine
	store  presence.Store
	cfg    config.RegistryConfig

	mu    sync.RWMutex
	rooms map[string]*Room

	now func() time.Time
}

func NewRegistry(engine media.Engine, store presence.Store, cfg config.RegistryConfig) *Registry {
	return &Registry{
		engine: engine,
		store:  store,
		cfg:    cfg,
		rooms:  make(map[string]*Room),
		now:    time.Now,
	}
}

func (r *Registry) room(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// CreateRoom allocates a router and records cluster-wide existence.
// Idempotent: a second call for an existing room is a no-op.
func (r *Registry) CreateRoom(ctx context.Context, roomID, teamID string) error {
	if _, ok := r.room(roomID); ok {
		return nil
	}

	router, err := r.engine.CreateRouter(ctx)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	room := newRoom(roomID, teamID, router)

	r.mu.Lock()
	if _, ok := r.rooms[roomID]; ok {
		// Lost the creation race; keep the winner's router.
		r.mu.Unlock()
		router.Close()
		return nil
	}
	r.rooms[roomID] = room
	r.mu.Unlock()

	if err := r.store.CreateRoom(ctx, roomID, teamID); err != nil {
		r.mu.Lock()
		delete(r.rooms, roomID)
		r.mu.Unlock()
		router.Close()
		return fmt.Errorf("failed to record room in presence store: %w", err)
	}

	log.L().Info().Str(log.FieldRoomID, roomID).Str(log.FieldTeamID, teamID).Msg("room created")
	return nil
}

// EnsureRoom returns the local room, rehydrating it when the presence store
// reports cluster-wide existence that this instance has no state for.
// Rehydration is a recoverable anomaly, not an error.
func (r *Registry) EnsureRoom(ctx context.Context, roomID string) (*Room, error) {
	if room, ok := r.room(roomID); ok {
		return room, nil
	}

	exists, err := r.store.RoomExists(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to check room existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	teamID, err := r.store.RoomTeam(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room team: %w", err)
	}

	router, err := r.engine.CreateRouter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	room := newRoom(roomID, teamID, router)

	r.mu.Lock()
	if existing, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		router.Close()
		return existing, nil
	}
	r.rooms[roomID] = room
	r.mu.Unlock()

	log.L().Warn().Str(log.FieldRoomID, roomID).Msg("room rehydrated from presence store")
	return room, nil
}

// CreateTransport allocates exactly one transport per (client, direction),
// overwriting and closing any stale prior entry for that key.
func (r *Registry) CreateTransport(ctx context.Context, roomID, clientID string, dir Direction) (media.TransportParams, error) {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return media.TransportParams{}, err
	}

	t, err := room.router.CreateTransport(ctx)
	if err != nil {
		return media.TransportParams{}, fmt.Errorf("failed to create transport: %w", err)
	}

	if old := room.putTransport(clientID, dir, t); old != nil {
		old.Close()
		log.L().Debug().
			Str(log.FieldRoomID, roomID).
			Str(log.FieldClientID, clientID).
			Str("direction", string(dir)).
			Msg("replaced stale transport")
	}

	r.touchRoom(ctx, roomID)

	return t.Params(), nil
}

// ConnectTransport locates the transport by id in the client's room
// (resolved through presence metadata) and applies the client's answer.
func (r *Registry) ConnectTransport(ctx context.Context, clientID, transportID string, params media.ConnectParams) error {
	sess, err := r.store.ClientSession(ctx, clientID)
	if err != nil {
		return fmt.Errorf("failed to resolve client session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("%w: no session for client %s", ErrTransportNotFound, clientID)
	}

	room, err := r.EnsureRoom(ctx, sess.RoomID)
	if err != nil {
		return err
	}

	t, ok := room.transportByID(transportID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransportNotFound, transportID)
	}

	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	r.touchRoom(ctx, sess.RoomID)
	return nil
}

// Produce creates a producer on the client's send transport and returns the
// producer id.
func (r *Registry) Produce(ctx context.Context, roomID, clientID, transportID string, kind media.Kind, rtp media.RTPParameters) (string, error) {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return "", err
	}

	t, ok := room.transport(clientID, DirectionSend)
	if !ok || (transportID != "" && t.ID() != transportID) {
		return "", fmt.Errorf("%w: no send transport for client %s", ErrTransportNotFound, clientID)
	}

	producer, err := t.Produce(ctx, kind, rtp)
	if err != nil {
		return "", fmt.Errorf("failed to produce: %w", err)
	}

	room.putProducer(producer, clientID)

	// Presence registration is best-effort; the in-memory state is already
	// authoritative for this instance.
	if err := r.store.AddRoomProducer(ctx, roomID, producer.ID()); err != nil {
		log.L().Warn().Err(err).Str(log.FieldProducerID, producer.ID()).Msg("failed to register producer in presence store")
	}
	r.touchRoom(ctx, roomID)

	log.L().Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldClientID, clientID).
		Str(log.FieldProducerID, producer.ID()).
		Str("kind", string(kind)).
		Msg("producer created")

	return producer.ID(), nil
}

// Consume creates a consumer for another client's producer after the router
// confirms capability compatibility.
func (r *Registry) Consume(ctx context.Context, roomID, clientID, producerID string, caps media.RTPCapabilities) (ConsumerParams, error) {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return ConsumerParams{}, err
	}

	if !room.router.CanConsume(producerID, caps) {
		return ConsumerParams{}, fmt.Errorf("%w: producer %s", ErrCannotConsume, producerID)
	}

	t, ok := room.transport(clientID, DirectionRecv)
	if !ok {
		return ConsumerParams{}, fmt.Errorf("%w: no recv transport for client %s", ErrTransportNotFound, clientID)
	}

	consumer, err := t.Consume(ctx, producerID, caps)
	if err != nil {
		return ConsumerParams{}, fmt.Errorf("failed to consume: %w", err)
	}

	room.putConsumer(consumer, clientID)
	r.touchRoom(ctx, roomID)

	return ConsumerParams{
		ID:            consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
	}, nil
}

// ResumeConsumer resumes a paused consumer.
func (r *Registry) ResumeConsumer(ctx context.Context, roomID, consumerID string) error {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return err
	}

	consumer, ok := room.consumerByID(consumerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, consumerID)
	}

	return consumer.Resume()
}

// Producers lists producer ids in the room, excluding those owned by
// excludeClientID.
func (r *Registry) Producers(ctx context.Context, roomID, excludeClientID string) ([]string, error) {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.producerIDs(excludeClientID), nil
}

// RTPCapabilities returns the room router's supported capabilities.
func (r *Registry) RTPCapabilities(ctx context.Context, roomID string) (media.RTPCapabilities, error) {
	room, err := r.EnsureRoom(ctx, roomID)
	if err != nil {
		return media.RTPCapabilities{}, err
	}
	return room.router.RTPCapabilities(), nil
}

// RemoveClient closes and removes everything the client owns across all
// rooms. Safe to call multiple times and under concurrent disconnects; a
// room whose collections this call drained to empty is closed and removed
// locally. Rooms the client owned nothing in are untouched, so a stranger's
// disconnect never tears down a freshly created room.
func (r *Registry) RemoveClient(ctx context.Context, clientID string) {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	for _, room := range rooms {
		resources, producerIDs, empty := room.clientResources(clientID)
		if len(resources) == 0 {
			continue
		}

		for _, res := range resources {
			if err := res.Close(); err != nil {
				log.L().Warn().Err(err).Str(log.FieldClientID, clientID).Msg("failed to close client resource")
			}
		}
		for _, id := range producerIDs {
			if err := r.store.RemoveRoomProducer(ctx, room.id, id); err != nil {
				log.L().Warn().Err(err).Str(log.FieldProducerID, id).Msg("failed to deregister producer from presence store")
			}
		}

		log.L().Info().
			Str(log.FieldRoomID, room.id).
			Str(log.FieldClientID, clientID).
			Int("closed", len(resources)).
			Msg("client resources released")

		if empty {
			r.closeEmptyRoom(room)
		}
	}
}

// closeEmptyRoom removes a drained room from the registry. The presence
// markers stay: another instance may still own occupants, and the eviction
// sweep is the authority for cluster-wide teardown.
func (r *Registry) closeEmptyRoom(room *Room) {
	r.mu.Lock()
	if current, ok := r.rooms[room.id]; !ok || current != room {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, room.id)
	r.mu.Unlock()

	room.router.Close()
	log.L().Info().Str(log.FieldRoomID, room.id).Msg("room closed (empty)")
}

// touchRoom refreshes the room's activity marker. Best-effort: an
// unavailable presence store never rolls back a completed mutation.
func (r *Registry) touchRoom(ctx context.Context, roomID string) {
	if err := r.store.TouchRoom(ctx, roomID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to refresh room activity")
	}
}

// Close tears down every local room.
func (r *Registry) Close() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		for _, res := range room.allResources() {
			res.Close()
		}
		room.router.Close()
	}
}
