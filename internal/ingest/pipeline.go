// Package ingest drains persistent chat events from the pending-batch queue
// into durable storage with at-least-once delivery and at-most-once writes
// (a bounded-retention dedup set guards the storage side).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/pkg/log"
)

// Queue is the pending-batch substrate: an ordered list of serialized
// events plus the processed-id dedup set. The redis presence store and the
// in-memory store both implement it.
type Queue interface {
	PushPending(ctx context.Context, payload []byte) (int64, error)
	ClaimPending(ctx context.Context, n int) ([][]byte, error)
	PendingLen(ctx context.Context) (int64, error)
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

// Sink is the durable storage target. InsertIgnore must be conflict-tolerant
// on the event id.
type Sink interface {
	InsertIgnore(ctx context.Context, event *chat.Event) (inserted bool, err error)
	Count(ctx context.Context) (int64, error)
}

// Status reports what Enqueue did with an event.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDuplicate Status = "duplicate"
)

// Result summarizes one flush.
type Result struct {
	Total        int      `json:"total"`
	Inserted     int      `json:"inserted"`
	Duplicates   int      `json:"duplicates"`
	Errors       int      `json:"errors"`
	ErrorDetails []string `json:"errorDetails,omitempty"`
}

// Stats is the pipeline's observable state.
type Stats struct {
	QueueSize       int64 `json:"queueSize"`
	TimerArmed      bool  `json:"timerArmed"`
	BatchSize       int   `json:"batchSize"`
	FlushIntervalMs int64 `json:"flushIntervalMs"`
	TotalPersisted  int64 `json:"totalPersisted"`
}

// Pipeline accumulates events and flushes them on a size threshold or a
// timer, whichever fires first.
type Pipeline struct {
	queue Queue
	sink  Sink
	cfg   config.BatchConfig

	timerMu    sync.Mutex
	timer      *time.Timer
	timerArmed bool
	stopped    bool

	// flushMu serializes flushes so the timer and a size-triggered flush
	// never claim from the queue concurrently.
	flushMu sync.Mutex
}

func NewPipeline(queue Queue, sink Sink, cfg config.BatchConfig) *Pipeline {
	return &Pipeline{
		queue: queue,
		sink:  sink,
		cfg:   cfg,
	}
}

// Enqueue appends an event to the pending queue. An id already in the dedup
// set is reported as a duplicate, not an error. Reaching the size threshold
// triggers an immediate flush instead of waiting for the timer.
func (p *Pipeline) Enqueue(ctx context.Context, event *chat.Event) (Status, error) {
	processed, err := p.queue.IsProcessed(ctx, event.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check dedup set: %w", err)
	}
	if processed {
		log.Ctx(ctx).Debug().Str(log.FieldEventID, event.ID).Msg("dropping duplicate chat event")
		return StatusDuplicate, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}

	length, err := p.queue.PushPending(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	if length >= int64(p.cfg.Size) {
		if _, err := p.Flush(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("size-triggered flush failed")
		}
	} else {
		p.armTimer()
	}

	return StatusQueued, nil
}

// Flush claims up to one batch from the queue and writes it to storage.
// Items are removed from the queue before processing: a crash mid-flush may
// lose them but never double-delivers to storage. Per-item parse or storage
// failures are isolated and reported in the result.
func (p *Pipeline) Flush(ctx context.Context) (Result, error) {
	p.disarmTimer()

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	items, err := p.queue.ClaimPending(ctx, p.cfg.Size)
	if err != nil {
		return Result{}, fmt.Errorf("failed to claim pending events: %w", err)
	}

	result := Result{Total: len(items)}
	for _, item := range items {
		var event chat.Event
		if err := json.Unmarshal(item, &event); err != nil {
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("parse: %v", err))
			continue
		}

		processed, err := p.queue.IsProcessed(ctx, event.ID)
		if err != nil {
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("%s: dedup check: %v", event.ID, err))
			continue
		}
		if processed {
			result.Duplicates++
			continue
		}

		inserted, err := p.sink.InsertIgnore(ctx, &event)
		if err != nil {
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("%s: insert: %v", event.ID, err))
			continue
		}

		if err := p.queue.MarkProcessed(ctx, event.ID, p.cfg.DedupTTL); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldEventID, event.ID).Msg("failed to mark event processed")
		}

		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if result.Total > 0 {
		log.Ctx(ctx).Info().
			Int("total", result.Total).
			Int("inserted", result.Inserted).
			Int("duplicates", result.Duplicates).
			Int("errors", result.Errors).
			Msg("chat batch flushed")
	}

	if remaining, err := p.queue.PendingLen(ctx); err == nil && remaining > 0 {
		p.armTimer()
	}

	return result, nil
}

// Drain flushes until the queue is empty or the round cap is hit. Used at
// shutdown to bound the delay.
func (p *Pipeline) Drain(ctx context.Context) error {
	for round := 0; round < p.cfg.DrainMaxRounds; round++ {
		length, err := p.queue.PendingLen(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if length == 0 {
			return nil
		}
		if _, err := p.Flush(ctx); err != nil {
			return err
		}
	}

	if length, err := p.queue.PendingLen(ctx); err == nil && length > 0 {
		log.Ctx(ctx).Warn().Int64("pending", length).Msg("drain round cap hit with events still queued")
	}
	return nil
}

// Stats reports queue depth, timer state and the persisted total.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	length, err := p.queue.PendingLen(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue length: %w", err)
	}

	persisted, err := p.sink.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count persisted events: %w", err)
	}

	p.timerMu.Lock()
	armed := p.timerArmed
	p.timerMu.Unlock()

	return Stats{
		QueueSize:       length,
		TimerArmed:      armed,
		BatchSize:       p.cfg.Size,
		FlushIntervalMs: p.cfg.FlushInterval.Milliseconds(),
		TotalPersisted:  persisted,
	}, nil
}

// Stop disarms the flush timer. Pending events are handled by Drain.
func (p *Pipeline) Stop() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerArmed = false
}

// armTimer arms the flush timer unless one is already armed. Exactly one
// timer may be armed at a time.
func (p *Pipeline) armTimer() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.timerArmed || p.stopped {
		return
	}
	p.timerArmed = true
	p.timer = time.AfterFunc(p.cfg.FlushInterval, func() {
		if _, err := p.Flush(context.Background()); err != nil {
			log.L().Error().Err(err).Msg("timer-triggered flush failed")
		}
	})
}

func (p *Pipeline) disarmTimer() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerArmed = false
}
