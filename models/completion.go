package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CompletionFinished   = "finished"
	CompletionEliminated = "eliminated"
)

// CompletionRecord is written once per participant when they finish the
// question set or run out of health. The unique index on ParticipantID is
// what makes the recorder's upsert idempotent.
type CompletionRecord struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	SessionID      uint           `json:"session_id" gorm:"not null;index"`
	ParticipantID  uint           `json:"participant_id" gorm:"uniqueIndex;not null"`
	FinalHealth    int            `json:"final_health" gorm:"not null"`
	IsEliminated   bool           `json:"is_eliminated" gorm:"not null"`
	CompletionType string         `json:"completion_type" gorm:"not null"` // finished, eliminated
	FinalScore     int            `json:"final_score" gorm:"not null"`
	AnsweredCount  int            `json:"answered_count" gorm:"not null"`
	RecordedAt     time.Time      `json:"recorded_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Session     Session     `json:"session,omitempty"`
	Participant Participant `json:"participant,omitempty"`
}
