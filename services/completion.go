package services

import (
	"context"
	"time"

	"zombiequiz/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompletionRecorder writes one completion record per participant. The
// upsert keyed on participant_id folds repeated calls for the same
// participant into a single row.
type CompletionRecorder struct {
	db *gorm.DB
}

func NewCompletionRecorder(db *gorm.DB) *CompletionRecorder {
	return &CompletionRecorder{db: db}
}

// newCompletionRecord derives the persisted outcome from the final
// participant state.
func newCompletionRecord(p *models.Participant) models.CompletionRecord {
	finalHealth := p.Health
	if finalHealth < 0 {
		finalHealth = 0
	}
	eliminated := !p.IsAlive || p.Health <= 0
	completionType := models.CompletionFinished
	if eliminated {
		completionType = models.CompletionEliminated
	}
	return models.CompletionRecord{
		SessionID:      p.SessionID,
		ParticipantID:  p.ID,
		FinalHealth:    finalHealth,
		IsEliminated:   eliminated,
		CompletionType: completionType,
		FinalScore:     p.Score,
		AnsweredCount:  len(p.Answers),
		RecordedAt:     time.Now(),
	}
}

func (r *CompletionRecorder) Record(ctx context.Context, p *models.Participant, totalQuestions int) error {
	record := newCompletionRecord(p)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"final_health", "is_eliminated", "completion_type",
			"final_score", "answered_count", "recorded_at", "updated_at",
		}),
	}).Create(&record).Error
}
