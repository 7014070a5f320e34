package models

import (
	"time"

	"gorm.io/gorm"
)

type Answer struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	SessionID     uint           `json:"session_id" gorm:"not null;index"`
	ParticipantID uint           `json:"participant_id" gorm:"not null;index"`
	QuestionID    uint           `json:"question_id" gorm:"not null"`
	OptionID      uint           `json:"option_id" gorm:"not null"`
	IsCorrect     bool           `json:"is_correct" gorm:"not null"`
	AnswerIndex   int            `json:"answer_index" gorm:"not null"` // position in the participant's answer sequence
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Session     Session     `json:"session,omitempty"`
	Participant Participant `json:"participant,omitempty"`
	Question    Question    `json:"question,omitempty"`
	Option      Option      `json:"option,omitempty"`
}
