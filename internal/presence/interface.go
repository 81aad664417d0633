// Package presence is the cross-instance record of which clients belong to
// which rooms and when a room was last active. Every instance treats it as
// eventually consistent: a missing key is a normal outcome, not an error.
package presence

import (
	"context"
	"time"
)

// ClientSession is the authoritative binding between a live connection and
// its room. Written on join, read on every signaling operation, deleted on
// leave or disconnect.
type ClientSession struct {
	UserID       string   `json:"user_id"`
	RoomID       string   `json:"room_id"`
	TeamID       string   `json:"team_id"`
	TransportIDs []string `json:"transport_ids,omitempty"`
}

// Store is the distributed presence substrate.
type Store interface {
	// SetClientSession writes the client→room binding.
	SetClientSession(ctx context.Context, clientID string, s *ClientSession) error

	// ClientSession returns the binding, or (nil, nil) when absent.
	ClientSession(ctx context.Context, clientID string) (*ClientSession, error)

	// DeleteClientSession removes the binding.
	DeleteClientSession(ctx context.Context, clientID string) error

	// AddRoomMember adds a client to a room's membership set and refreshes
	// the room's activity timestamp.
	AddRoomMember(ctx context.Context, roomID, clientID string) error

	// RemoveRoomMember removes a client from a room's membership set and
	// refreshes the room's activity timestamp.
	RemoveRoomMember(ctx context.Context, roomID, clientID string) error

	// RoomMembers returns the client ids currently in the room.
	RoomMembers(ctx context.Context, roomID string) ([]string, error)

	// CreateRoom records cluster-wide room existence with its owning team
	// and an initial activity timestamp.
	CreateRoom(ctx context.Context, roomID, teamID string) error

	// RoomExists reports whether the room has a non-expired existence marker.
	RoomExists(ctx context.Context, roomID string) (bool, error)

	// RoomTeam returns the owning team id, or "" when the room is unknown.
	RoomTeam(ctx context.Context, roomID string) (string, error)

	// TouchRoom refreshes the room's last-activity timestamp.
	TouchRoom(ctx context.Context, roomID string) error

	// RoomLastActive returns the last-activity timestamp, or the zero time
	// when the room is unknown.
	RoomLastActive(ctx context.Context, roomID string) (time.Time, error)

	// DeleteRoom removes every presence marker for the room.
	DeleteRoom(ctx context.Context, roomID string) error

	// AddRoomProducer registers a producer id in the room's producer set.
	AddRoomProducer(ctx context.Context, roomID, producerID string) error

	// RemoveRoomProducer removes a producer id from the room's producer set.
	RemoveRoomProducer(ctx context.Context, roomID, producerID string) error

	// RoomProducers returns the producer ids registered for the room.
	RoomProducers(ctx context.Context, roomID string) ([]string, error)

	Close() error
}
