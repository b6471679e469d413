// Package mongo stores chat sessions as one MongoDB document per turn.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory/consts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type attachmentDoc struct {
	Type string `bson:"type"`
	URL  string `bson:"url,omitempty"`
}

type turnDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	SessionID   string             `bson:"session_id"`
	Role        string             `bson:"role"`
	Content     string             `bson:"content"`
	Attachments []attachmentDoc    `bson:"attachments,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
	ExpiresAt   *time.Time         `bson:"expires_at,omitempty"`
}

// Store keeps turns in a collection. Every turn of a session carries the
// session's expiry, which a TTL index enforces server side; reads filter on
// it too because the TTL monitor only runs periodically.
type Store struct {
	coll     *mongo.Collection
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// New prepares the collection indexes and returns a Store. A zero ttl never
// expires sessions and a zero maxTurns keeps every turn.
func New(ctx context.Context, coll *mongo.Collection, ttl time.Duration, maxTurns int) (*Store, error) {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: consts.ColSessionID, Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: consts.ColExpiresAt, Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return nil, fmt.Errorf("create session indexes: %w", err)
	}
	return &Store{coll: coll, ttl: ttl, maxTurns: maxTurns, now: time.Now}, nil
}

func (s *Store) liveFilter(sessionID string) bson.M {
	filter := bson.M{consts.ColSessionID: sessionID}
	if s.ttl > 0 {
		filter[consts.ColExpiresAt] = bson.M{"$gt": s.now()}
	}
	return filter
}

// Save inserts the turn, pushes the expiry of the whole session forward
// and drops turns beyond the cap.
func (s *Store) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	now := s.now()
	doc := turnDoc{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: now,
	}
	for _, a := range msg.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDoc{Type: a.Type, URL: a.URL})
	}

	if s.ttl > 0 {
		// an expired session restarts empty
		if _, err := s.coll.DeleteMany(ctx, bson.M{
			consts.ColSessionID: sessionID,
			consts.ColExpiresAt: bson.M{"$lte": now},
		}); err != nil {
			return fmt.Errorf("drop expired turns: %w", err)
		}
		expires := now.Add(s.ttl)
		doc.ExpiresAt = &expires
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("save turn for session %s: %w", sessionID, err)
	}
	if s.ttl > 0 {
		if _, err := s.coll.UpdateMany(ctx, bson.M{consts.ColSessionID: sessionID},
			bson.M{"$set": bson.M{consts.ColExpiresAt: doc.ExpiresAt}}); err != nil {
			return fmt.Errorf("refresh session expiry: %w", err)
		}
	}
	return s.trim(ctx, sessionID)
}

func (s *Store) trim(ctx context.Context, sessionID string) error {
	if s.maxTurns <= 0 {
		return nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(s.maxTurns)).
		SetProjection(bson.M{"_id": 1})
	cursor, err := s.coll.Find(ctx, bson.M{consts.ColSessionID: sessionID}, opts)
	if err != nil {
		return err
	}
	var stale []turnDoc
	if err := cursor.All(ctx, &stale); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	ids := make([]primitive.ObjectID, len(stale))
	for i, d := range stale {
		ids[i] = d.ID
	}
	_, err = s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, s.liveFilter(sessionID), opts)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var docs []turnDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	turns := make([]llm.Message, 0, len(docs))
	for _, d := range docs {
		msg := llm.Message{Role: llm.Role(d.Role), Content: d.Content}
		for _, a := range d.Attachments {
			msg.Attachments = append(msg.Attachments, llm.Attachment{Type: a.Type, URL: a.URL})
		}
		turns = append(turns, msg)
	}
	return turns, nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{consts.ColSessionID: sessionID})
	return err
}
