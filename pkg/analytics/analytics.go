// Package analytics records one event per answered turn.
package analytics

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Event is one answered (or failed) turn.
type Event struct {
	ID            uint      `gorm:"primaryKey"`
	Timestamp     time.Time `gorm:"index"`
	Page          string    `gorm:"index"`
	Query         string
	LatencyMs     int64
	RetrievedDocs int
	Model         string
	TokensUsed    int
	Success       bool
	Cached        bool
	ErrorCode     string
}

// TableName overrides the table name.
func (Event) TableName() string { return "analytics" }

// Recorder receives turn events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Store persists events with gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store and migrates its table.
func NewStore(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate analytics: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts e. A zero Timestamp is set to now.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.ID = 0
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("failed to record analytics event: %w", err)
	}
	return nil
}

// Summary aggregates the events of a period.
type Summary struct {
	Events       int64   `json:"events"`
	Failures     int64   `json:"failures"`
	Cached       int64   `json:"cached"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	TokensUsed   int64   `json:"tokensUsed"`
}

// Summarize aggregates events recorded at or after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var row struct {
		Events     int64
		Failures   int64
		Cached     int64
		AvgLatency float64
		Tokens     int64
	}
	err := s.db.WithContext(ctx).Model(&Event{}).
		Select(`COUNT(*) AS events,
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failures,
			COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0) AS cached,
			COALESCE(AVG(latency_ms), 0) AS avg_latency,
			COALESCE(SUM(tokens_used), 0) AS tokens`).
		Where("timestamp >= ?", since.UTC()).
		Scan(&row).Error
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize analytics: %w", err)
	}
	return Summary{
		Events:       row.Events,
		Failures:     row.Failures,
		Cached:       row.Cached,
		AvgLatencyMs: row.AvgLatency,
		TokensUsed:   row.Tokens,
	}, nil
}

type pageKey struct{}

// WithPage attaches the page a question was asked from.
func WithPage(ctx context.Context, page string) context.Context {
	return context.WithValue(ctx, pageKey{}, page)
}

// PageFrom returns the page set by WithPage, or "".
func PageFrom(ctx context.Context) string {
	page, _ := ctx.Value(pageKey{}).(string)
	return page
}
