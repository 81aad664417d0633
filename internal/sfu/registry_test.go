package sfu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/media"
	"github.com/dd-25/Meetup/internal/media/mediatest"
	"github.com/dd-25/Meetup/internal/presence"
)

func testRegistry(t *testing.T) (*Registry, *mediatest.Engine, *presence.MemoryStore) {
	t.Helper()
	engine := mediatest.NewEngine()
	store := presence.NewMemoryStore()
	cfg := config.RegistryConfig{SweepInterval: 30 * time.Second, InactivityThreshold: 90 * time.Second}
	return NewRegistry(engine, store, cfg), engine, store
}

func clientCaps() media.RTPCapabilities {
	return media.RTPCapabilities{Codecs: []media.CodecCapability{{MimeType: "audio/opus", ClockRate: 48000}}}
}

func TestCreateRoomIdempotent(t *testing.T) {
	r, engine, store := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))

	assert.Equal(t, 1, engine.RouterCount(), "second create must not allocate a router")

	exists, err := store.RoomExists(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnsureRoomRehydratesFromPresence(t *testing.T) {
	r, engine, store := testRegistry(t)
	ctx := context.Background()

	// Another instance created the room: presence knows it, this one does not.
	require.NoError(t, store.CreateRoom(ctx, "room-7", "team-7"))

	room, err := r.EnsureRoom(ctx, "room-7")
	require.NoError(t, err)
	assert.Equal(t, "room-7", room.ID())
	assert.Equal(t, "team-7", room.teamID)
	assert.Equal(t, 1, engine.RouterCount())

	// A second ensure finds the local room and allocates nothing.
	again, err := r.EnsureRoom(ctx, "room-7")
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.Equal(t, 1, engine.RouterCount())
}

func TestEnsureRoomUnknownRoom(t *testing.T) {
	r, _, _ := testRegistry(t)

	_, err := r.EnsureRoom(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCreateTransportReplacesStale(t *testing.T) {
	r, _, _ := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))

	first, err := r.CreateTransport(ctx, "room-1", "alice", DirectionSend)
	require.NoError(t, err)
	second, err := r.CreateTransport(ctx, "room-1", "alice", DirectionSend)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	room, ok := r.room("room-1")
	require.True(t, ok)

	// Only the fresh transport remains resolvable.
	_, found := room.transportByID(first.ID)
	assert.False(t, found)
	current, found := room.transportByID(second.ID)
	require.True(t, found)
	assert.Equal(t, second.ID, current.ID())
}

func TestProduceAndConsumeFlow(t *testing.T) {
	r, _, store := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	_, err := r.CreateTransport(ctx, "room-1", "alice", DirectionSend)
	require.NoError(t, err)
	_, err = r.CreateTransport(ctx, "room-1", "bob", DirectionRecv)
	require.NoError(t, err)

	producerID, err := r.Produce(ctx, "room-1", "alice", "", media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)
	require.NotEmpty(t, producerID)

	// The producer is visible to peers but not to its owner.
	ids, err := r.Producers(ctx, "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{producerID}, ids)
	ids, err = r.Producers(ctx, "room-1", "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Presence carries the producer id for cross-instance discovery.
	registered, err := store.RoomProducers(ctx, "room-1")
	require.NoError(t, err)
	assert.Contains(t, registered, producerID)

	params, err := r.Consume(ctx, "room-1", "bob", producerID, clientCaps())
	require.NoError(t, err)
	assert.Equal(t, producerID, params.ProducerID)
	assert.Equal(t, media.KindAudio, params.Kind)

	require.NoError(t, r.ResumeConsumer(ctx, "room-1", params.ID))
}

func TestConsumeIncompatibleCapabilities(t *testing.T) {
	r, _, _ := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	_, err := r.CreateTransport(ctx, "room-1", "alice", DirectionSend)
	require.NoError(t, err)
	_, err = r.CreateTransport(ctx, "room-1", "bob", DirectionRecv)
	require.NoError(t, err)

	producerID, err := r.Produce(ctx, "room-1", "alice", "", media.KindVideo, media.RTPParameters{})
	require.NoError(t, err)

	_, err = r.Consume(ctx, "room-1", "bob", producerID, media.RTPCapabilities{})
	assert.ErrorIs(t, err, ErrCannotConsume)

	// No consumer state may linger after the refusal.
	room, ok := r.room("room-1")
	require.True(t, ok)
	room.mu.Lock()
	assert.Empty(t, room.consumers)
	room.mu.Unlock()
}

func TestProduceWithoutSendTransport(t *testing.T) {
	r, _, _ := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	_, err := r.CreateTransport(ctx, "room-1", "alice", DirectionRecv)
	require.NoError(t, err)

	_, err = r.Produce(ctx, "room-1", "alice", "", media.KindAudio, media.RTPParameters{})
	assert.ErrorIs(t, err, ErrTransportNotFound)
}

func TestRemoveClientIdempotent(t *testing.T) {
	r, _, store := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	_, err := r.CreateTransport(ctx, "room-1", "alice", DirectionSend)
	require.NoError(t, err)
	producerID, err := r.Produce(ctx, "room-1", "alice", "", media.KindAudio, media.RTPParameters{})
	require.NoError(t, err)

	r.RemoveClient(ctx, "alice")
	// Concurrent disconnect paths may fire twice; the second is a no-op.
	r.RemoveClient(ctx, "alice")

	_, ok := r.room("room-1")
	assert.False(t, ok, "drained room must be removed locally")

	registered, err := store.RoomProducers(ctx, "room-1")
	require.NoError(t, err)
	assert.NotContains(t, registered, producerID)

	// Presence existence survives local teardown; eviction owns it.
	exists, err := store.RoomExists(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRemoveClientSparesRoomsClientNeverUsed(t *testing.T) {
	r, _, _ := testRegistry(t)
	ctx := context.Background()

	// A room is empty between creation and the first transport; an unrelated
	// disconnect must not tear it down.
	require.NoError(t, r.CreateRoom(ctx, "room-alice", "team-1"))

	r.RemoveClient(ctx, "bob")

	_, ok := r.room("room-alice")
	assert.True(t, ok, "room must survive a stranger's disconnect")

	// Same for a populated room bob owns nothing in.
	_, err := r.CreateTransport(ctx, "room-alice", "alice", DirectionSend)
	require.NoError(t, err)
	r.RemoveClient(ctx, "bob")
	_, ok = r.room("room-alice")
	assert.True(t, ok)
}

func TestSweepEvictsInactiveRoom(t *testing.T) {
	r, _, store := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "idle-room", "team-1"))
	require.NoError(t, r.CreateRoom(ctx, "busy-room", "team-1"))

	base := time.Now()
	store.TouchRoomAt("idle-room", base.Add(-2*time.Minute))
	store.TouchRoomAt("busy-room", base.Add(-10*time.Second))
	r.now = func() time.Time { return base }

	r.SweepOnce(ctx)

	_, ok := r.room("idle-room")
	assert.False(t, ok, "idle room must be evicted")
	_, ok = r.room("busy-room")
	assert.True(t, ok, "active room must survive the sweep")

	exists, err := store.RoomExists(ctx, "idle-room")
	require.NoError(t, err)
	assert.False(t, exists, "presence markers must be cleared on eviction")
}

func TestSweepEvictsRoomWithLostPresence(t *testing.T) {
	r, _, store := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateRoom(ctx, "room-1", "team-1"))
	// Presence record vanished (expired or deleted elsewhere).
	require.NoError(t, store.DeleteRoom(ctx, "room-1"))

	r.SweepOnce(ctx)

	_, ok := r.room("room-1")
	assert.False(t, ok)
}
