package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SessionWaiting  = "waiting"
	SessionActive   = "active"
	SessionFinished = "finished"
)

const (
	DifficultyEasy   = "easy"
	DifficultyNormal = "normal"
	DifficultyHard   = "hard"
)

type Session struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	QuizID        uint           `json:"quiz_id" gorm:"not null"`
	Pin           string         `json:"pin" gorm:"uniqueIndex;not null"`
	Status        string         `json:"status" gorm:"not null;default:'waiting'"` // waiting, active, finished
	Difficulty    string         `json:"difficulty" gorm:"not null;default:'normal'"`
	QuestionLimit int            `json:"question_limit" gorm:"not null;default:10"`
	Duration      int            `json:"duration" gorm:"not null;default:180"` // seconds
	StartedAt     *time.Time     `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Quiz         Quiz          `json:"quiz,omitempty"`
	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:SessionID"`
	Answers      []Answer      `json:"answers,omitempty" gorm:"foreignKey:SessionID"`
}

// MaxHealthFor maps a session difficulty to the starting health pool.
func MaxHealthFor(difficulty string) int {
	switch difficulty {
	case DifficultyEasy:
		return 150
	case DifficultyHard:
		return 80
	default:
		return 100
	}
}
