package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/auth"
)

func hubClient(id string) *Client {
	return &Client{ID: id, Identity: auth.Identity{UserID: id}, Send: make(chan []byte, 4)}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestToRoomReachesOnlyRoomMembers(t *testing.T) {
	h := startHub(t)

	a, b, c := hubClient("a"), hubClient("b"), hubClient("c")
	for _, cl := range []*Client{a, b, c} {
		cl.Hub = h
		h.Register(cl)
	}
	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")
	h.JoinRoom(c, "room-2")

	h.ToRoom("room-1", []byte(`{"hello":true}`))

	assert.JSONEq(t, `{"hello":true}`, string(receive(t, a)))
	assert.JSONEq(t, `{"hello":true}`, string(receive(t, b)))
	assertSilent(t, c)
}

func TestToTeamReachesTeamMembers(t *testing.T) {
	h := startHub(t)

	a, b := hubClient("a"), hubClient("b")
	for _, cl := range []*Client{a, b} {
		cl.Hub = h
		h.Register(cl)
	}
	h.JoinTeam(a, "team-1")

	h.ToTeam("team-1", []byte(`{"n":1}`))

	assert.JSONEq(t, `{"n":1}`, string(receive(t, a)))
	assertSilent(t, b)
}

func TestNotifyRoomExcludesOriginator(t *testing.T) {
	h := startHub(t)

	a, b := hubClient("a"), hubClient("b")
	for _, cl := range []*Client{a, b} {
		cl.Hub = h
		h.Register(cl)
	}
	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")

	h.NotifyRoom("room-1", "a", "peer-joined", map[string]string{"clientId": "a"})

	var env Envelope
	require.NoError(t, json.Unmarshal(receive(t, b), &env))
	assert.Equal(t, "peer-joined", env.Event)
	assertSilent(t, a)
}

func TestSendEventSafeDuringUnregister(t *testing.T) {
	h := startHub(t)

	c := hubClient("a")
	c.Hub = h
	h.Register(c)

	// The read goroutine keeps responding while the hub unregisters the
	// client and closes its send channel; neither side may panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			c.SendEvent("new-producer", map[string]string{"producerId": "p-1"})
		}
	}()

	h.Unregister(c)
	<-done

	// Sends after shutdown are silent no-ops.
	c.SendEvent("new-producer", map[string]string{"producerId": "p-2"})
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	h := startHub(t)

	a := hubClient("a")
	a.Hub = h
	h.Register(a)
	h.JoinRoom(a, "room-1")
	assert.Equal(t, 1, h.RoomClientCount("room-1"))

	h.LeaveRoom(a, "room-1")
	assert.Equal(t, 0, h.RoomClientCount("room-1"))

	h.ToRoom("room-1", []byte(`{}`))
	assertSilent(t, a)
}
