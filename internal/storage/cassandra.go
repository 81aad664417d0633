package storage

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
)

// CassandraSink writes chat events with IF NOT EXISTS, which gives the same
// insert-or-ignore behavior as the postgres driver.
type CassandraSink struct {
	session *gocql.Session
}

func NewCassandraSink(cfg config.CassandraConfig) (*CassandraSink, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace

	switch cfg.Consistency {
	case "LOCAL_ONE":
		cluster.Consistency = gocql.LocalOne
	case "ONE":
		cluster.Consistency = gocql.One
	case "QUORUM":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.LocalQuorum
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraSink{session: session}, nil
}

func (s *CassandraSink) InsertIgnore(ctx context.Context, event *chat.Event) (bool, error) {
	query := `INSERT INTO chats (
			id, content, media_url, media_type, mime_type,
			organization_id, team_id, sender_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`

	applied, err := s.session.Query(query,
		event.ID,
		event.Content,
		event.MediaURL,
		event.MediaType,
		event.MimeType,
		event.OrganizationID,
		event.TeamID,
		event.SenderID,
		event.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to insert chat record: %w", err)
	}

	return applied, nil
}

func (s *CassandraSink) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.session.Query(`SELECT COUNT(*) FROM chats`).WithContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chat records: %w", err)
	}
	return count, nil
}

func (s *CassandraSink) Close() error {
	s.session.Close()
	return nil
}

var _ Sink = (*CassandraSink)(nil)
