// Package storage provides the durable sink for persistent chat events.
// Both drivers implement conflict-tolerant inserts keyed by event id, so a
// redelivered event never produces a second row.
package storage

import (
	"fmt"
	"io"

	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/ingest"
)

// Sink extends the pipeline's sink with a Close for shutdown.
type Sink interface {
	ingest.Sink
	io.Closer
}

// New selects a sink driver from configuration.
func New(cfg config.StorageConfig) (Sink, error) {
	switch cfg.Driver {
	case "cassandra":
		return NewCassandraSink(cfg.Cassandra)
	case "postgres", "":
		return NewPostgresSink(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
