// Package neo4j stores chat sessions as a small graph:
// (:ChatSession {id, touched, seq})-[:SAID]->(:Turn {seq, role, content}).
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory/consts"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config locates the database and bounds sessions. A zero TTL never
// expires sessions and a zero MaxTurns keeps every turn.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	TTL      time.Duration
	MaxTurns int
}

// Store is a Neo4j-backed session store. Times are stored as unix
// milliseconds.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// New connects and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable: %w", err)
	}
	return &Store{
		driver:   driver,
		database: cfg.Database,
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		now:      time.Now,
	}, nil
}

func (s *Store) params(sessionID string) map[string]any {
	now := s.now()
	cutoff := int64(0)
	if s.ttl > 0 {
		cutoff = now.Add(-s.ttl).UnixMilli()
	}
	return map[string]any{
		"sessionID": sessionID,
		"now":       now.UnixMilli(),
		"cutoff":    cutoff,
		"max":       s.maxTurns,
	}
}

var (
	expireTurns = fmt.Sprintf(`
		MATCH (s:%[1]s {id: $sessionID})-[:%[2]s]->(t:%[3]s)
		WHERE s.%[4]s < $cutoff
		DETACH DELETE t`,
		consts.LabelSession, consts.RelSaid, consts.LabelTurn, consts.PropTouched)

	appendTurn = fmt.Sprintf(`
		MERGE (s:%[1]s {id: $sessionID})
		SET s.%[4]s = $now, s.seq = coalesce(s.seq, 0) + 1
		CREATE (s)-[:%[2]s]->(:%[3]s {seq: s.seq, %[5]s: $role, %[6]s: $content, %[7]s: $attachments, %[8]s: $now})`,
		consts.LabelSession, consts.RelSaid, consts.LabelTurn, consts.PropTouched,
		consts.ColRole, consts.ColContent, consts.ColAttachments, consts.ColCreatedAt)

	trimTurns = fmt.Sprintf(`
		MATCH (s:%[1]s {id: $sessionID})-[:%[2]s]->(t:%[3]s)
		WHERE t.seq <= s.seq - $max
		DETACH DELETE t`,
		consts.LabelSession, consts.RelSaid, consts.LabelTurn)

	loadTurns = fmt.Sprintf(`
		MATCH (s:%[1]s {id: $sessionID})-[:%[2]s]->(t:%[3]s)
		WHERE s.%[4]s >= $cutoff
		RETURN t.%[5]s AS role, t.%[6]s AS content, t.%[7]s AS attachments
		ORDER BY t.seq ASC`,
		consts.LabelSession, consts.RelSaid, consts.LabelTurn, consts.PropTouched,
		consts.ColRole, consts.ColContent, consts.ColAttachments)

	deleteSession = fmt.Sprintf(`
		MATCH (s:%[1]s {id: $sessionID})
		OPTIONAL MATCH (s)-[:%[2]s]->(t:%[3]s)
		DETACH DELETE s, t`,
		consts.LabelSession, consts.RelSaid, consts.LabelTurn)
)

// Save appends msg in one transaction: turns of an expired session are
// dropped first and turns beyond the cap last.
func (s *Store) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	params := s.params(sessionID)
	params["role"] = string(msg.Role)
	params["content"] = msg.Content
	params["attachments"] = ""
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		params["attachments"] = string(b)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if s.ttl > 0 {
			if _, err := tx.Run(ctx, expireTurns, params); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Run(ctx, appendTurn, params); err != nil {
			return nil, err
		}
		if s.maxTurns > 0 {
			if _, err := tx.Run(ctx, trimTurns, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("save turn for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, loadTurns, s.params(sessionID))
		if err != nil {
			return nil, err
		}
		var turns []llm.Message
		for res.Next(ctx) {
			rec := res.Record()
			msg := llm.Message{Role: llm.Role(str(rec, "role")), Content: str(rec, "content")}
			if raw := str(rec, "attachments"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &msg.Attachments); err != nil {
					return nil, fmt.Errorf("decode attachments: %w", err)
				}
			}
			turns = append(turns, msg)
		}
		return turns, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	turns, _ := out.([]llm.Message)
	return turns, nil
}

func str(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, deleteSession, map[string]any{"sessionID": sessionID})
		return nil, err
	})
	return err
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
