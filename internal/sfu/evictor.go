package sfu

import (
	"context"
	"time"

	"github.com/dd-25/Meetup/pkg/log"
)

// RunEvictor periodically sweeps known rooms and tears down the inactive
// ones. It returns when ctx is cancelled.
func (r *Registry) RunEvictor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	log.L().Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("inactivity_threshold", r.cfg.InactivityThreshold).
		Msg("room evictor started")

	for {
		select {
		case <-ctx.Done():
			log.L().Info().Msg("room evictor stopping")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce evicts every known room whose presence activity marker has not
// been refreshed within the inactivity threshold. Inactivity is judged by
// presence activity, not local occupancy: occupancy can be split across
// instances. A presence store failure skips the room until the next tick.
func (r *Registry) SweepOnce(ctx context.Context) {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	now := r.now()
	for _, room := range rooms {
		lastActive, err := r.store.RoomLastActive(ctx, room.id)
		if err != nil {
			log.L().Warn().Err(err).Str(log.FieldRoomID, room.id).Msg("failed to read room activity, retrying next sweep")
			continue
		}

		// A zero timestamp means the presence record is gone entirely;
		// whatever deleted it wins.
		if !lastActive.IsZero() && now.Sub(lastActive) <= r.cfg.InactivityThreshold {
			continue
		}

		r.evictRoom(ctx, room, now.Sub(lastActive))
	}
}

func (r *Registry) evictRoom(ctx context.Context, room *Room, idle time.Duration) {
	r.mu.Lock()
	if current, ok := r.rooms[room.id]; !ok || current != room {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, room.id)
	r.mu.Unlock()

	for _, res := range room.allResources() {
		if err := res.Close(); err != nil {
			log.L().Warn().Err(err).Str(log.FieldRoomID, room.id).Msg("failed to close resource during eviction")
		}
	}
	room.router.Close()

	if err := r.store.DeleteRoom(ctx, room.id); err != nil {
		log.L().Warn().Err(err).Str(log.FieldRoomID, room.id).Msg("failed to delete presence markers for evicted room")
	}

	log.L().Warn().
		Str(log.FieldRoomID, room.id).
		Dur("idle", idle).
		Msg("room evicted for inactivity")
}
