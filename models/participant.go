package models

import (
	"time"

	"gorm.io/gorm"
)

type Participant struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	SessionID      uint   `json:"session_id" gorm:"not null;index;uniqueIndex:idx_session_nickname"`
	Nickname       string `json:"nickname" gorm:"not null;uniqueIndex:idx_session_nickname"`
	Character      string `json:"character" gorm:"not null;default:'runner'"`
	IsHost         bool   `json:"is_host" gorm:"not null;default:false"`
	Score          int    `json:"score" gorm:"not null;default:0"`
	CorrectAnswers int    `json:"correct_answers" gorm:"not null;default:0"`

	Health         int        `json:"health" gorm:"not null;default:100"`
	MaxHealth      int        `json:"max_health" gorm:"not null;default:100"`
	Speed          int        `json:"speed" gorm:"not null;default:50"`
	LastAnswerAt   *time.Time `json:"last_answer_at"`
	LastAttackAt   *time.Time `json:"last_attack_at"`
	IsBeingAttacked bool      `json:"is_being_attacked" gorm:"not null;default:false"`

	IsAlive    bool       `json:"is_alive" gorm:"not null;default:true"`
	FinishedAt *time.Time `json:"finished_at"`

	// Version increments on every write; writers pass the version they
	// read so concurrent updates are detected instead of silently lost.
	Version int `json:"version" gorm:"not null;default:0"`

	JoinedAt  time.Time      `json:"joined_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Session Session  `json:"session,omitempty"`
	Answers []Answer `json:"answers,omitempty" gorm:"foreignKey:ParticipantID"`
}

// Characters a participant can pick in the lobby.
var CharacterPool = []string{"runner", "medic", "scout", "engineer", "survivor", "ranger"}
