// Package chat defines chat events and the entry-point service that hands
// them to the message bus.
package chat

import "time"

// Class is the delivery class of a chat event.
type Class string

const (
	// ClassEphemeral events are room-scoped and never persisted.
	ClassEphemeral Class = "ephemeral"

	// ClassPersistent events are team-scoped and queued for durable storage.
	ClassPersistent Class = "persistent"
)

// Event is an immutable chat event. The id is generated at the edge and is
// the deduplication key all the way into storage.
type Event struct {
	ID             string    `json:"id"`
	Content        string    `json:"content,omitempty"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	MediaType      string    `json:"mediaType,omitempty"`
	MimeType       string    `json:"mimeType,omitempty"`
	OrganizationID string    `json:"organizationId"`
	TeamID         string    `json:"teamId"`
	SenderID       string    `json:"senderId"`
	RoomID         string    `json:"roomId,omitempty"` // required for ephemeral events
	CreatedAt      time.Time `json:"createdAt"`
}
