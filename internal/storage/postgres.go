package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
)

// ChatRecord is the persisted form of a chat event.
type ChatRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	Content        string `gorm:"type:text"`
	MediaURL       string `gorm:"size:512"`
	MediaType      string `gorm:"size:64"`
	MimeType       string `gorm:"size:128"`
	OrganizationID string `gorm:"size:64;index"`
	TeamID         string `gorm:"size:64;index"`
	SenderID       string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ChatRecord) TableName() string { return "chats" }

// PostgresSink writes chat events through gorm with insert-or-ignore
// semantics on the primary key.
type PostgresSink struct {
	db *gorm.DB
}

func NewPostgresSink(cfg config.PostgresConfig) (*PostgresSink, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&ChatRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat table: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

// InsertIgnore inserts the event, doing nothing on an id conflict. The
// returned flag reports whether a row was actually written.
func (s *PostgresSink) InsertIgnore(ctx context.Context, event *chat.Event) (bool, error) {
	record := ChatRecord{
		ID:             event.ID,
		Content:        event.Content,
		MediaURL:       event.MediaURL,
		MediaType:      event.MediaType,
		MimeType:       event.MimeType,
		OrganizationID: event.OrganizationID,
		TeamID:         event.TeamID,
		SenderID:       event.SenderID,
		CreatedAt:      event.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert chat record: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (s *PostgresSink) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChatRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count chat records: %w", err)
	}
	return count, nil
}

func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Sink = (*PostgresSink)(nil)
