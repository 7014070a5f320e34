package store

import (
	"context"
	"errors"
	"log"
	"strings"

	"zombiequiz/models"

	"gorm.io/gorm"
)

// GormStore is the postgres-backed SessionStore. Every committed
// participant or session write publishes one change event to the feed.
type GormStore struct {
	db    *gorm.DB
	feed  ChangeFeed
	clock Clock
}

func NewGormStore(db *gorm.DB, feed ChangeFeed, clock Clock) *GormStore {
	if clock == nil {
		clock = RealClock()
	}
	return &GormStore{db: db, feed: feed, clock: clock}
}

func (s *GormStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Where("LOWER(pin) = ?", strings.ToLower(pin)).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) UpdateSessionStatus(ctx context.Context, id uint, status string) error {
	var old models.Session
	if err := s.db.WithContext(ctx).First(&old, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	updates := map[string]interface{}{"status": status}
	now := s.clock.Now()
	switch status {
	case models.SessionActive:
		if old.StartedAt == nil {
			updates["started_at"] = now
		}
	case models.SessionFinished:
		if old.EndedAt == nil {
			updates["ended_at"] = now
		}
	}
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return err
	}

	var updated models.Session
	if err := s.db.WithContext(ctx).First(&updated, id).Error; err != nil {
		return err
	}
	s.publish(ctx, ChangeEvent{
		Table:      TableSessions,
		Operation:  OpUpdate,
		SessionID:  id,
		NewSession: &updated,
		OldSession: &old,
	})
	return nil
}

func (s *GormStore) GetParticipant(ctx context.Context, id uint) (*models.Participant, error) {
	var p models.Participant
	err := s.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("answer_index ASC")
		}).
		First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) ListParticipants(ctx context.Context, sessionID uint) ([]models.Participant, error) {
	var out []models.Participant
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	p.JoinedAt = s.clock.Now()
	p.IsAlive = p.Health > 0
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return err
	}
	s.publish(ctx, ChangeEvent{
		Table:          TableParticipants,
		Operation:      OpInsert,
		SessionID:      p.SessionID,
		NewParticipant: p,
	})
	return nil
}

// UpdateParticipant applies the update only if the stored version still
// matches expectedVersion. The version column is bumped in the same
// statement, so a concurrent writer loses with ErrVersionConflict instead
// of silently clobbering.
func (s *GormStore) UpdateParticipant(ctx context.Context, id uint, expectedVersion int, upd ParticipantUpdate) (*models.Participant, error) {
	old, err := s.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := buildParticipantUpdates(old, upd)
	updates["version"] = gorm.Expr("version + 1")

	var updated *models.Participant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Participant{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		if upd.AppendAnswer != nil {
			a := *upd.AppendAnswer
			a.ParticipantID = id
			a.SessionID = old.SessionID
			a.AnswerIndex = len(old.Answers)
			if err := tx.Create(&a).Error; err != nil {
				return err
			}
		}
		// Reload with answers so feed consumers see the appended row.
		var p models.Participant
		err := tx.Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("answer_index ASC")
		}).First(&p, id).Error
		if err != nil {
			return err
		}
		updated = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ChangeEvent{
		Table:          TableParticipants,
		Operation:      OpUpdate,
		SessionID:      old.SessionID,
		NewParticipant: updated,
		OldParticipant: old,
	})
	return updated, nil
}

func (s *GormStore) JoinSession(ctx context.Context, roomCode, clientID, nickname string) (*JoinResult, error) {
	session, err := s.GetSessionByPin(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionFinished {
		return nil, ErrSessionLocked
	}

	var existing models.Participant
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND nickname = ?", session.ID, nickname).
		First(&existing).Error
	if err == nil {
		return nil, ErrNicknameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	maxHealth := models.MaxHealthFor(session.Difficulty)
	p := &models.Participant{
		SessionID: session.ID,
		Nickname:  nickname,
		Character: models.CharacterPool[0],
		Health:    maxHealth,
		MaxHealth: maxHealth,
		Speed:     50,
		IsAlive:   true,
	}
	if err := s.CreateParticipant(ctx, p); err != nil {
		// The unique index on (session_id, nickname) is the backstop
		// for joins that race past the lookup above.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrNicknameTaken
		}
		return nil, err
	}
	return &JoinResult{
		ParticipantID: p.ID,
		SessionID:     session.ID,
		GamePin:       session.Pin,
		Character:     p.Character,
	}, nil
}

func (s *GormStore) GetQuestions(ctx context.Context, quizID uint) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("quiz_id = ?", quizID).
		Order("\"order\" ASC").
		Preload("Options").
		Find(&questions).Error
	return questions, err
}

func (s *GormStore) publish(ctx context.Context, ev ChangeEvent) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Printf("Failed to publish change event for session %d: %v", ev.SessionID, err)
	}
}

// buildParticipantUpdates turns a ParticipantUpdate into a column map,
// clamping health to [0, max].
func buildParticipantUpdates(current *models.Participant, upd ParticipantUpdate) map[string]interface{} {
	updates := map[string]interface{}{}
	if upd.Character != nil {
		updates["character"] = *upd.Character
	}
	if upd.Score != nil {
		updates["score"] = *upd.Score
	}
	if upd.CorrectAnswers != nil {
		updates["correct_answers"] = *upd.CorrectAnswers
	}
	if upd.Health != nil {
		h := *upd.Health
		if h < 0 {
			h = 0
		}
		if h > current.MaxHealth {
			h = current.MaxHealth
		}
		updates["health"] = h
	}
	if upd.Speed != nil {
		updates["speed"] = *upd.Speed
	}
	if upd.LastAnswerAt != nil {
		updates["last_answer_at"] = *upd.LastAnswerAt
	}
	if upd.LastAttackAt != nil {
		updates["last_attack_at"] = *upd.LastAttackAt
	}
	if upd.IsBeingAttacked != nil {
		updates["is_being_attacked"] = *upd.IsBeingAttacked
	}
	if upd.IsAlive != nil {
		updates["is_alive"] = *upd.IsAlive
	}
	if upd.FinishedAt != nil && current.FinishedAt == nil {
		updates["finished_at"] = *upd.FinishedAt
	}
	return updates
}

var _ SessionStore = (*GormStore)(nil)
