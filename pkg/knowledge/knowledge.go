package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrPersistence wraps snapshot save failures. The in-memory state stays valid.
var ErrPersistence = errors.New("snapshot persistence failed")

// Document is a stored text with its embedding and typed metadata.
type Document[M any] struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Metadata  M         `json:"metadata"`
}

// Match is a query hit.
type Match[M any] struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Metadata M       `json:"metadata"`
	Score    float64 `json:"score"`
}

// ChunkMetadata describes where a content chunk came from.
type ChunkMetadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Heading     string `json:"heading,omitempty"`
	Section     string `json:"section,omitempty"`
	Lang        string `json:"lang,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore stores documents and answers top-K similarity queries.
type VectorStore[M any] interface {
	// Upsert inserts or replaces documents by id.
	Upsert(ctx context.Context, docs []Document[M]) error
	// Query returns the topK best matches, highest score first.
	Query(ctx context.Context, embedding []float32, topK int) ([]Match[M], error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// Similarity returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero vectors score 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) {
		return 0
	}
	return score
}

// DefaultBatchSize is the number of texts sent per embedding request during ingestion.
const DefaultBatchSize = 100

// KnowledgeBase combines an Embedder and a VectorStore.
type KnowledgeBase[M any] struct {
	Embedder    Embedder
	VectorStore VectorStore[M]
	BatchSize   int
}

// NewKnowledgeBase creates a new KnowledgeBase.
func NewKnowledgeBase[M any](embedder Embedder, store VectorStore[M]) *KnowledgeBase[M] {
	return &KnowledgeBase[M]{
		Embedder:    embedder,
		VectorStore: store,
		BatchSize:   DefaultBatchSize,
	}
}

// Ingest embeds documents that have no embedding yet and upserts everything.
// A persistence failure is returned after all batches were stored in memory.
func (kb *KnowledgeBase[M]) Ingest(ctx context.Context, docs []Document[M]) error {
	var pending []int
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			pending = append(pending, i)
		}
	}

	batch := kb.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	for start := 0; start < len(pending); start += batch {
		end := min(start+batch, len(pending))
		texts := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			texts = append(texts, docs[idx].Content)
		}

		vectors, err := kb.Embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for j, idx := range pending[start:end] {
			docs[idx].Embedding = vectors[j]
		}
	}

	if len(docs) == 0 {
		return nil
	}
	return kb.VectorStore.Upsert(ctx, docs)
}

// Retrieve finds relevant documents for a query.
func (kb *KnowledgeBase[M]) Retrieve(ctx context.Context, query string, limit int) ([]Match[M], error) {
	vector, err := EmbedOne(ctx, kb.Embedder, query)
	if err != nil {
		return nil, err
	}
	return kb.VectorStore.Query(ctx, vector, limit)
}
