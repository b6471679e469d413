// Package memory provides an in-process vector store that scans every
// document per query and snapshots its contents to a JSON file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/barekit/vitrine/pkg/knowledge"
)

// Store implements knowledge.VectorStore with brute-force cosine search.
// Upserts and snapshot writes are serialized; queries run concurrently.
type Store[M any] struct {
	mu     sync.RWMutex
	path   string
	docs   map[string]knowledge.Document[M]
	logger *slog.Logger
}

type options struct {
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger used for load and save warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Store backed by the snapshot at path and loads it.
// An empty path keeps the store in memory only.
func New[M any](path string, opts ...Option) *Store[M] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[M]{
		path:   path,
		docs:   make(map[string]knowledge.Document[M]),
		logger: o.logger,
	}
	s.load()
	return s
}

// Path returns the snapshot location.
func (s *Store[M]) Path() string {
	return s.path
}

func (s *Store[M]) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("could not read vector store snapshot", "path", s.path, "error", err)
		}
		return
	}

	docs := make(map[string]knowledge.Document[M])
	if err := json.Unmarshal(data, &docs); err != nil {
		s.logger.Warn("vector store snapshot is corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	for id, doc := range docs {
		if doc.ID == "" {
			doc.ID = id
			docs[id] = doc
		}
	}

	s.docs = docs
	s.logger.Info("loaded vector store snapshot", "path", s.path, "documents", len(docs))
}

// Upsert replaces documents by id and writes a full snapshot.
// A failed write keeps the in-memory state and returns an error wrapping knowledge.ErrPersistence.
func (s *Store[M]) Upsert(ctx context.Context, docs []knowledge.Document[M]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			return errors.New("document id is required")
		}
	}
	for _, doc := range docs {
		doc.Embedding = append([]float32(nil), doc.Embedding...)
		doc.Metadata = cloneMetadata(doc.Metadata)
		s.docs[doc.ID] = doc
	}

	if err := s.save(); err != nil {
		s.logger.Warn("could not persist vector store snapshot", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", knowledge.ErrPersistence, err)
	}
	return nil
}

// Query scores every document against embedding and returns the best topK.
func (s *Store[M]) Query(ctx context.Context, embedding []float32, topK int) ([]knowledge.Match[M], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]knowledge.Match[M], 0, len(s.docs))
	for id, doc := range s.docs {
		matches = append(matches, knowledge.Match[M]{
			ID:       id,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Score:    knowledge.Similarity(embedding, doc.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	for i := range matches {
		matches[i].Metadata = cloneMetadata(matches[i].Metadata)
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (s *Store[M]) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Get returns a stored document by id.
func (s *Store[M]) Get(id string) (knowledge.Document[M], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return doc, false
	}
	doc.Embedding = append([]float32(nil), doc.Embedding...)
	doc.Metadata = cloneMetadata(doc.Metadata)
	return doc, true
}

// cloneMetadata deep-copies m through its JSON form, the same form the
// snapshot stores. Stored documents never share slices or maps with callers.
func cloneMetadata[M any](m M) M {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out M
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

// Clear removes every document and writes an empty snapshot.
func (s *Store[M]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]knowledge.Document[M])
	if err := s.save(); err != nil {
		s.logger.Warn("could not persist vector store snapshot", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", knowledge.ErrPersistence, err)
	}
	return nil
}

// save writes the snapshot through a temp file in the same directory so a
// crash never leaves a truncated file behind. Callers hold the write lock.
func (s *Store[M]) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
