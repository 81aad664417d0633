package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dd-25/Meetup/pkg/log"
)

var (
	// ErrEmptyMessage is returned when an event has neither content nor a
	// media reference.
	ErrEmptyMessage = errors.New("empty message or media")

	// ErrMissingFields is returned when the identity triple is incomplete.
	ErrMissingFields = errors.New("missing organizationId, teamId or senderId")

	// ErrRoomRequired is returned for ephemeral events without a room id.
	ErrRoomRequired = errors.New("room id is required for temporary messages")
)

// Publisher hands an event to the message bus under a delivery class.
type Publisher interface {
	Publish(ctx context.Context, class Class, event *Event) error
}

// SendRequest is a client's request to send a chat message. The identity
// triple arrives pre-verified from the authorization layer.
type SendRequest struct {
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	MediaType      string `json:"mediaType,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	OrganizationID string `json:"organizationId"`
	TeamID         string `json:"teamId"`
	SenderID       string `json:"senderId"`
	RoomID         string `json:"roomId,omitempty"`
	Temporary      bool   `json:"isTemporary"`
}

// Confirmation is always delivered back to the sender, failed or not.
type Confirmation struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"` // "sent" or "failed"
	Timestamp time.Time `json:"timestamp"`
}

// Service validates send requests, assigns the event id, and publishes.
type Service struct {
	publisher Publisher
}

func NewService(publisher Publisher) *Service {
	return &Service{publisher: publisher}
}

// Send publishes a chat event. The returned confirmation carries a failed
// status (alongside the error) when publishing did not succeed, so the edge
// can always answer the sender instead of silently dropping the request.
func (s *Service) Send(ctx context.Context, req SendRequest) (Confirmation, error) {
	if req.Content == "" && req.MediaURL == "" {
		return Confirmation{Status: "failed"}, ErrEmptyMessage
	}
	if req.OrganizationID == "" || req.TeamID == "" || req.SenderID == "" {
		return Confirmation{Status: "failed"}, ErrMissingFields
	}
	if req.Temporary && req.RoomID == "" {
		return Confirmation{Status: "failed"}, ErrRoomRequired
	}

	event := &Event{
		ID:             uuid.NewString(),
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		MimeType:       req.MimeType,
		OrganizationID: req.OrganizationID,
		TeamID:         req.TeamID,
		SenderID:       req.SenderID,
		RoomID:         req.RoomID,
		CreatedAt:      time.Now().UTC(),
	}

	class := ClassPersistent
	if req.Temporary {
		class = ClassEphemeral
	}

	if err := s.publisher.Publish(ctx, class, event); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldEventID, event.ID).
			Str(log.FieldClass, string(class)).
			Msg("failed to publish chat event")
		return Confirmation{MessageID: event.ID, Status: "failed", Timestamp: event.CreatedAt}, err
	}

	log.Ctx(ctx).Debug().
		Str(log.FieldEventID, event.ID).
		Str(log.FieldClass, string(class)).
		Str(log.FieldTeamID, event.TeamID).
		Msg("chat event published")

	return Confirmation{MessageID: event.ID, Status: "sent", Timestamp: event.CreatedAt}, nil
}
