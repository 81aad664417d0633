// Package signaling orchestrates the media session lifecycle on top of the
// room registry and the presence store: join, transport negotiation,
// produce/consume, and teardown. It owns client-facing semantics; the
// registry owns resources.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd-25/Meetup/internal/media"
	"github.com/dd-25/Meetup/internal/presence"
	"github.com/dd-25/Meetup/internal/sfu"
	"github.com/dd-25/Meetup/pkg/log"
)

var (
	ErrNotInRoom         = errors.New("client is not in a room")
	ErrMissingParameters = errors.New("missing required parameters")
)

// Notifier pushes room-scoped signaling events to connected peers.
type Notifier interface {
	// NotifyRoom sends an event to every member of the room except the
	// excluded client.
	NotifyRoom(roomID, excludeClientID, event string, data any)
}

// JoinResult is what a newly joined client needs to start consuming.
type JoinResult struct {
	RoomID          string                `json:"roomId"`
	ProducerIDs     []string              `json:"producerIds"`
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

// Session drives signaling operations for connected clients.
type Session struct {
	registry *sfu.Registry
	store    presence.Store
	notifier Notifier
}

func NewSession(registry *sfu.Registry, store presence.Store, notifier Notifier) *Session {
	return &Session{registry: registry, store: store, notifier: notifier}
}

// Join binds the client to a room, creating the room cluster-wide when it
// does not exist yet, and announces the peer to the room's other members.
// The result carries the ids of producers already live in the room so the
// client can consume them immediately. A client without a team joins under
// a per-room fallback team so persistent chat still has a scope.
func (s *Session) Join(ctx context.Context, clientID, userID, roomID, teamID string) (*JoinResult, error) {
	if clientID == "" || userID == "" || roomID == "" {
		return nil, ErrMissingParameters
	}
	if teamID == "" {
		teamID = "room:" + roomID
	}

	exists, err := s.store.RoomExists(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to check room existence: %w", err)
	}
	if !exists {
		if err := s.registry.CreateRoom(ctx, roomID, teamID); err != nil {
			return nil, err
		}
	}

	sess := &presence.ClientSession{UserID: userID, RoomID: roomID, TeamID: teamID}
	if err := s.store.SetClientSession(ctx, clientID, sess); err != nil {
		return nil, fmt.Errorf("failed to store client session: %w", err)
	}
	if err := s.store.AddRoomMember(ctx, roomID, clientID); err != nil {
		return nil, fmt.Errorf("failed to add room member: %w", err)
	}

	producerIDs, err := s.registry.Producers(ctx, roomID, clientID)
	if err != nil {
		return nil, err
	}
	caps, err := s.registry.RTPCapabilities(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyRoom(roomID, clientID, "peer-joined", map[string]string{
		"clientId": clientID,
		"userId":   userID,
	})

	log.L().Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldClientID, clientID).
		Str(log.FieldUserID, userID).
		Msg("client joined room")

	return &JoinResult{RoomID: roomID, ProducerIDs: producerIDs, RTPCapabilities: caps}, nil
}

// CreateTransport allocates a transport in the client's current room.
func (s *Session) CreateTransport(ctx context.Context, clientID string, dir sfu.Direction) (media.TransportParams, error) {
	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return media.TransportParams{}, err
	}
	return s.registry.CreateTransport(ctx, sess.RoomID, clientID, dir)
}

// ConnectTransport applies the client's SDP answer to a pending transport.
func (s *Session) ConnectTransport(ctx context.Context, clientID, transportID string, params media.ConnectParams) error {
	if transportID == "" {
		return ErrMissingParameters
	}
	return s.registry.ConnectTransport(ctx, clientID, transportID, params)
}

// Produce creates a producer and announces it to the room so peers can
// start consuming without a round of polling.
func (s *Session) Produce(ctx context.Context, clientID, transportID string, kind media.Kind, rtp media.RTPParameters) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrMissingParameters, kind)
	}

	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return "", err
	}

	producerID, err := s.registry.Produce(ctx, sess.RoomID, clientID, transportID, kind, rtp)
	if err != nil {
		return "", err
	}

	s.notifier.NotifyRoom(sess.RoomID, clientID, "new-producer", map[string]string{
		"producerId": producerID,
		"clientId":   clientID,
		"kind":       string(kind),
	})

	return producerID, nil
}

// Consume creates a consumer for a remote producer on the client's recv
// transport.
func (s *Session) Consume(ctx context.Context, clientID, producerID string, caps media.RTPCapabilities) (sfu.ConsumerParams, error) {
	if producerID == "" {
		return sfu.ConsumerParams{}, ErrMissingParameters
	}

	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return sfu.ConsumerParams{}, err
	}
	return s.registry.Consume(ctx, sess.RoomID, clientID, producerID, caps)
}

// ResumeConsumer unpauses a consumer after the client has wired its track.
func (s *Session) ResumeConsumer(ctx context.Context, clientID, consumerID string) error {
	if consumerID == "" {
		return ErrMissingParameters
	}

	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return err
	}
	return s.registry.ResumeConsumer(ctx, sess.RoomID, consumerID)
}

// Producers lists remote producer ids in the client's room.
func (s *Session) Producers(ctx context.Context, clientID string) ([]string, error) {
	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.registry.Producers(ctx, sess.RoomID, clientID)
}

// RTPCapabilities returns the router capabilities of the client's room.
func (s *Session) RTPCapabilities(ctx context.Context, clientID string) (media.RTPCapabilities, error) {
	sess, err := s.currentSession(ctx, clientID)
	if err != nil {
		return media.RTPCapabilities{}, err
	}
	return s.registry.RTPCapabilities(ctx, sess.RoomID)
}

// Leave releases the client's resources and presence markers and tells the
// room the peer is gone. Explicit leave and abrupt disconnect converge here.
func (s *Session) Leave(ctx context.Context, clientID string) error {
	sess, err := s.store.ClientSession(ctx, clientID)
	if err != nil {
		return fmt.Errorf("failed to resolve client session: %w", err)
	}

	s.registry.RemoveClient(ctx, clientID)

	if sess == nil {
		// Never joined, or presence already expired. Nothing to announce.
		return nil
	}

	if err := s.store.RemoveRoomMember(ctx, sess.RoomID, clientID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldClientID, clientID).Msg("failed to remove room member")
	}
	if err := s.store.DeleteClientSession(ctx, clientID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldClientID, clientID).Msg("failed to delete client session")
	}

	s.notifier.NotifyRoom(sess.RoomID, clientID, "peer-left", map[string]string{
		"clientId": clientID,
		"userId":   sess.UserID,
	})

	log.L().Info().
		Str(log.FieldRoomID, sess.RoomID).
		Str(log.FieldClientID, clientID).
		Msg("client left room")

	return nil
}

// Disconnect handles an abrupt connection loss. Identical to Leave; the
// name exists so call sites read correctly.
func (s *Session) Disconnect(ctx context.Context, clientID string) error {
	return s.Leave(ctx, clientID)
}

func (s *Session) currentSession(ctx context.Context, clientID string) (*presence.ClientSession, error) {
	sess, err := s.store.ClientSession(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client session: %w", err)
	}
	if sess == nil || sess.RoomID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotInRoom, clientID)
	}
	return sess, nil
}
