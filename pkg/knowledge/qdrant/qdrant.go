package qdrant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadDocID    = "doc_id"
	payloadContent  = "content"
	payloadMetadata = "metadata"
)

// pointNamespace derives stable point UUIDs from arbitrary document ids.
var pointNamespace = uuid.MustParse("6f1c2a52-3c8e-4d0b-9a57-1e0f5d3b7c21")

// Config describes the Qdrant collection backing a store.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

// Store implements knowledge.VectorStore using Qdrant. Metadata travels as a
// JSON string payload so any metadata type round-trips.
type Store[M any] struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

// New creates a Store and makes sure the collection exists.
func New[M any](ctx context.Context, cfg Config) (*Store[M], error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	store := &Store[M]{
		client:         client,
		collectionName: cfg.Collection,
		vectorSize:     cfg.VectorSize,
	}

	if err := store.initCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store[M]) initCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collectionName, err)
	}
	return nil
}

// PointID maps a document id to the UUID used as its Qdrant point id.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

func (s *Store[M]) Upsert(ctx context.Context, docs []knowledge.Document[M]) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: map[string]*qdrant.Value{
				payloadDocID:    qdrant.NewValueString(doc.ID),
				payloadContent:  qdrant.NewValueString(doc.Content),
				payloadMetadata: qdrant.NewValueString(string(meta)),
			},
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

func (s *Store[M]) Query(ctx context.Context, embedding []float32, topK int) ([]knowledge.Match[M], error) {
	if topK <= 0 {
		return nil, nil
	}

	limit := uint64(topK)
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.collectionName, err)
	}

	matches := make([]knowledge.Match[M], 0, len(res))
	for _, hit := range res {
		match := knowledge.Match[M]{
			ID:    hit.Id.GetUuid(),
			Score: float64(hit.Score),
		}
		if v, ok := hit.Payload[payloadDocID]; ok {
			match.ID = v.GetStringValue()
		}
		if v, ok := hit.Payload[payloadContent]; ok {
			match.Content = v.GetStringValue()
		}
		if v, ok := hit.Payload[payloadMetadata]; ok {
			if err := json.Unmarshal([]byte(v.GetStringValue()), &match.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", match.ID, err)
			}
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func (s *Store[M]) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying gRPC connection.
func (s *Store[M]) Close() error {
	return s.client.Close()
}
