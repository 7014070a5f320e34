package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultWrongAnswerDamage is the health cost of a wrong answer when the
// question does not override it.
const DefaultWrongAnswerDamage = 20

// Question is one step of the chase. Damage lets an author make single
// questions more punishing than the session default.
type Question struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	QuizID    uint           `json:"quiz_id" gorm:"not null"`
	Text      string         `json:"text" gorm:"not null"`
	TimeLimit int            `json:"time_limit" gorm:"not null;default:30"` // seconds
	Damage    int            `json:"damage" gorm:"not null;default:0"`      // 0 means DefaultWrongAnswerDamage
	Order     int            `json:"order" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Options []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}

// WrongDamage is the health lost by answering this question wrong.
func (q *Question) WrongDamage() int {
	if q.Damage > 0 {
		return q.Damage
	}
	return DefaultWrongAnswerDamage
}
