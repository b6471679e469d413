// Package factory selects a vector store backend from configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/knowledge/memory"
	"github.com/barekit/vitrine/pkg/knowledge/postgres"
	"github.com/barekit/vitrine/pkg/knowledge/qdrant"
)

type Type string

const (
	TypeFile     Type = "file"
	TypeQdrant   Type = "qdrant"
	TypePgvector Type = "pgvector"
)

// Config holds configuration for one vector store instance.
type Config struct {
	Type Type
	// Path is the snapshot file for TypeFile.
	Path string
	// Name is the collection (qdrant) or table (pgvector) name.
	Name string
	// Dimensions is the embedding size, required by qdrant and pgvector.
	Dimensions int

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool

	PostgresDSN string

	Logger *slog.Logger
}

// NewStore creates a vector store for metadata type M.
func NewStore[M any](ctx context.Context, cfg Config) (knowledge.VectorStore[M], error) {
	switch cfg.Type {
	case TypeFile, "":
		var opts []memory.Option
		if cfg.Logger != nil {
			opts = append(opts, memory.WithLogger(cfg.Logger))
		}
		return memory.New[M](cfg.Path, opts...), nil

	case TypeQdrant:
		store, err := qdrant.New[M](ctx, qdrant.Config{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.Name,
			VectorSize: uint64(cfg.Dimensions),
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case TypePgvector:
		store, err := postgres.New[M](ctx, cfg.PostgresDSN, cfg.Name, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
