// Package gorm stores chat sessions in a relational database (sqlite,
// postgres, mysql or sqlserver) through gorm.
package gorm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory/consts"
	"gorm.io/gorm"
)

// TurnModel is one stored chat turn.
type TurnModel struct {
	ID          uint      `gorm:"primaryKey"`
	SessionID   string    `gorm:"size:64;index:idx_turn_session"`
	Role        string    `gorm:"size:16"`
	Content     string    `gorm:"type:text"`
	Attachments []byte    // JSON, empty when the turn has none
	CreatedAt   time.Time `gorm:"index"`
}

func (TurnModel) TableName() string { return consts.TableNameTurns }

// Store keeps sessions as rows. A session expires when its newest turn is
// older than the TTL.
type Store struct {
	db       *gorm.DB
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// New migrates the turn table and returns a Store. A zero ttl never expires
// sessions and a zero maxTurns keeps every turn.
func New(ctx context.Context, db *gorm.DB, ttl time.Duration, maxTurns int) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&TurnModel{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", consts.TableNameTurns, err)
	}
	return &Store{db: db, ttl: ttl, maxTurns: maxTurns, now: time.Now}, nil
}

func (s *Store) session(ctx context.Context, sessionID string) *gorm.DB {
	return s.db.WithContext(ctx).Where(consts.ColSessionID+" = ?", sessionID)
}

// live reports whether the session has a turn inside the TTL. Expired
// sessions are deleted on the way.
func (s *Store) live(ctx context.Context, sessionID string) (bool, error) {
	var last TurnModel
	err := s.session(ctx, sessionID).Order("id DESC").Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.ttl > 0 && s.now().Sub(last.CreatedAt) > s.ttl {
		return false, s.Clear(ctx, sessionID)
	}
	return true, nil
}

// Save appends msg and deletes turns beyond the cap.
func (s *Store) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	if _, err := s.live(ctx, sessionID); err != nil {
		return fmt.Errorf("save turn for session %s: %w", sessionID, err)
	}

	row := TurnModel{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: s.now(),
	}
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		row.Attachments = b
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save turn for session %s: %w", sessionID, err)
	}
	return s.trim(ctx, sessionID)
}

func (s *Store) trim(ctx context.Context, sessionID string) error {
	if s.maxTurns <= 0 {
		return nil
	}
	var oldestKept []uint
	err := s.session(ctx, sessionID).Model(&TurnModel{}).
		Order("id DESC").Offset(s.maxTurns - 1).Limit(1).
		Pluck("id", &oldestKept).Error
	if err != nil || len(oldestKept) == 0 {
		return err
	}
	return s.session(ctx, sessionID).Where("id < ?", oldestKept[0]).Delete(&TurnModel{}).Error
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	ok, err := s.live(ctx, sessionID)
	if err != nil || !ok {
		return nil, err
	}

	var rows []TurnModel
	if err := s.session(ctx, sessionID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	turns := make([]llm.Message, len(rows))
	for i, row := range rows {
		turns[i] = llm.Message{Role: llm.Role(row.Role), Content: row.Content}
		if len(row.Attachments) > 0 {
			if err := json.Unmarshal(row.Attachments, &turns[i].Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of turn %d: %w", row.ID, err)
			}
		}
	}
	return turns, nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.session(ctx, sessionID).Delete(&TurnModel{}).Error
}
