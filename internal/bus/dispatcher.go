package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/ingest"
	"github.com/dd-25/Meetup/pkg/log"
)

// Fanout delivers a payload to every live connection in a scope.
type Fanout interface {
	ToRoom(roomID string, payload []byte)
	ToTeam(teamID string, payload []byte)
}

// Ingestor accepts persistent events for batched storage.
type Ingestor interface {
	Enqueue(ctx context.Context, event *chat.Event) (ingest.Status, error)
}

// Dispatcher is the single consumer-side route for chat events: ephemeral
// events fan out to their room, persistent events fan out to their team and
// enter the ingestion pipeline. All delivery happens here, never at publish
// time, so every replica sees the same traffic.
type Dispatcher struct {
	fanout Fanout
	ingest Ingestor
}

func NewDispatcher(fanout Fanout, ingest Ingestor) *Dispatcher {
	return &Dispatcher{fanout: fanout, ingest: ingest}
}

func (d *Dispatcher) Handle(ctx context.Context, class chat.Class, event *chat.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	switch class {
	case chat.ClassEphemeral:
		if event.RoomID == "" {
			return fmt.Errorf("ephemeral event %s has no room", event.ID)
		}
		d.fanout.ToRoom(event.RoomID, payload)
		return nil

	case chat.ClassPersistent:
		d.fanout.ToTeam(event.TeamID, payload)
		status, err := d.ingest.Enqueue(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to enqueue event %s: %w", event.ID, err)
		}
		if status == ingest.StatusDuplicate {
			log.L().Debug().Str(log.FieldEventID, event.ID).Msg("duplicate event skipped by ingest")
		}
		return nil

	default:
		return fmt.Errorf("unknown delivery class %q", class)
	}
}

var _ Handler = (*Dispatcher)(nil)
