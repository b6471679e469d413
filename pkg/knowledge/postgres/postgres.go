package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store implements knowledge.VectorStore using pgvector. Each store owns one
// table so the content, aesthetic and visual indexes can share a database.
type Store[M any] struct {
	db    *gorm.DB
	table string
}

// DocumentModel represents the database schema for a document.
type DocumentModel struct {
	ID        string `gorm:"primaryKey"`
	Content   string
	Metadata  []byte
	Embedding pgvector.Vector
}

type scoredRow struct {
	ID       string
	Content  string
	Metadata []byte
	Score    float64
}

// New connects to dsn and prepares table with vectors of the given dimension.
func New[M any](ctx context.Context, dsn, table string, dimensions int) (*Store[M], error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB[M](ctx, db, table, dimensions)
}

// NewWithDB prepares table on an existing connection.
func NewWithDB[M any](ctx context.Context, db *gorm.DB, table string, dimensions int) (*Store[M], error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dimensions)
	}

	db = db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector(%d) NOT NULL
	)`, table, dimensions)
	if err := db.Exec(ddl).Error; err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return &Store[M]{db: db, table: table}, nil
}

func (s *Store[M]) Upsert(ctx context.Context, docs []knowledge.Document[M]) error {
	if len(docs) == 0 {
		return nil
	}

	models := make([]DocumentModel, len(docs))
	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}
		models[i] = DocumentModel{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  meta,
			Embedding: pgvector.NewVector(doc.Embedding),
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "metadata", "embedding"}),
		}).Create(&models).Error
	})
}

func (s *Store[M]) Query(ctx context.Context, embedding []float32, topK int) ([]knowledge.Match[M], error) {
	if topK <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(embedding)

	// <=> is cosine distance, so similarity is 1 - distance.
	var rows []scoredRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Select("id, content, metadata, 1 - (embedding <=> ?) AS score", vec).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}

	matches := make([]knowledge.Match[M], len(rows))
	for i, row := range rows {
		matches[i] = knowledge.Match[M]{
			ID:      row.ID,
			Content: row.Content,
			Score:   row.Score,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &matches[i].Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", row.ID, err)
			}
		}
	}

	return matches, nil
}

func (s *Store[M]) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return int(n), nil
}
