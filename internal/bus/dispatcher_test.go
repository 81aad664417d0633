package bus_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/bus"
	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/ingest"
)

type recordingFanout struct {
	mu    sync.Mutex
	rooms map[string][][]byte
	teams map[string][][]byte
}

func newRecordingFanout() *recordingFanout {
	return &recordingFanout{rooms: make(map[string][][]byte), teams: make(map[string][][]byte)}
}

func (f *recordingFanout) ToRoom(roomID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[roomID] = append(f.rooms[roomID], payload)
}

func (f *recordingFanout) ToTeam(teamID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[teamID] = append(f.teams[teamID], payload)
}

type recordingIngestor struct {
	mu     sync.Mutex
	events []*chat.Event
	status ingest.Status
}

func (i *recordingIngestor) Enqueue(_ context.Context, event *chat.Event) (ingest.Status, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, event)
	if i.status == "" {
		return ingest.StatusQueued, nil
	}
	return i.status, nil
}

func testEvent(roomID string) *chat.Event {
	return &chat.Event{
		ID:             "e-1",
		Content:        "hello",
		OrganizationID: "org-1",
		TeamID:         "team-1",
		SenderID:       "user-1",
		RoomID:         roomID,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestDispatchEphemeralFansOutToRoomOnly(t *testing.T) {
	fanout := newRecordingFanout()
	ingestor := &recordingIngestor{}
	d := bus.NewDispatcher(fanout, ingestor)

	err := d.Handle(context.Background(), chat.ClassEphemeral, testEvent("room-1"))
	require.NoError(t, err)

	require.Len(t, fanout.rooms["room-1"], 1)
	assert.Empty(t, fanout.teams)
	assert.Empty(t, ingestor.events, "ephemeral events never reach storage")

	var delivered chat.Event
	require.NoError(t, json.Unmarshal(fanout.rooms["room-1"][0], &delivered))
	assert.Equal(t, "e-1", delivered.ID)
}

func TestDispatchEphemeralWithoutRoom(t *testing.T) {
	d := bus.NewDispatcher(newRecordingFanout(), &recordingIngestor{})

	err := d.Handle(context.Background(), chat.ClassEphemeral, testEvent(""))
	assert.Error(t, err)
}

func TestDispatchPersistentFansOutAndEnqueues(t *testing.T) {
	fanout := newRecordingFanout()
	ingestor := &recordingIngestor{}
	d := bus.NewDispatcher(fanout, ingestor)

	err := d.Handle(context.Background(), chat.ClassPersistent, testEvent(""))
	require.NoError(t, err)

	require.Len(t, fanout.teams["team-1"], 1)
	assert.Empty(t, fanout.rooms)
	require.Len(t, ingestor.events, 1)
	assert.Equal(t, "e-1", ingestor.events[0].ID)
}

func TestDispatchPersistentDuplicateStillFansOut(t *testing.T) {
	fanout := newRecordingFanout()
	ingestor := &recordingIngestor{status: ingest.StatusDuplicate}
	d := bus.NewDispatcher(fanout, ingestor)

	// Redelivery: live fan-out repeats (at-least-once), storage does not.
	err := d.Handle(context.Background(), chat.ClassPersistent, testEvent(""))
	require.NoError(t, err)
	assert.Len(t, fanout.teams["team-1"], 1)
}
