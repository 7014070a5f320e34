package services

import (
	"testing"
	"time"

	"zombiequiz/models"

	"github.com/stretchr/testify/assert"
)

func TestNewCompletionRecordFinished(t *testing.T) {
	now := time.Now()
	p := &models.Participant{
		ID:         7,
		SessionID:  3,
		Health:     60,
		MaxHealth:  100,
		Score:      80,
		IsAlive:    true,
		FinishedAt: &now,
		Answers:    make([]models.Answer, 10),
	}

	record := newCompletionRecord(p)
	assert.Equal(t, uint(3), record.SessionID)
	assert.Equal(t, uint(7), record.ParticipantID)
	assert.Equal(t, models.CompletionFinished, record.CompletionType)
	assert.False(t, record.IsEliminated)
	assert.Equal(t, 60, record.FinalHealth)
	assert.Equal(t, 80, record.FinalScore)
	assert.Equal(t, 10, record.AnsweredCount)
}

func TestNewCompletionRecordEliminatedByHealth(t *testing.T) {
	p := &models.Participant{ID: 7, Health: 0, IsAlive: false, Answers: make([]models.Answer, 5)}

	record := newCompletionRecord(p)
	assert.Equal(t, models.CompletionEliminated, record.CompletionType)
	assert.True(t, record.IsEliminated)
	assert.Equal(t, 0, record.FinalHealth)
	assert.Equal(t, 5, record.AnsweredCount)
}

func TestNewCompletionRecordEliminatedWhileHealthPositive(t *testing.T) {
	// A participant marked dead with health left is still an elimination.
	p := &models.Participant{ID: 7, Health: 40, IsAlive: false}

	record := newCompletionRecord(p)
	assert.Equal(t, models.CompletionEliminated, record.CompletionType)
	assert.True(t, record.IsEliminated)
	assert.Equal(t, 40, record.FinalHealth)
}

func TestNewCompletionRecordClampsNegativeHealth(t *testing.T) {
	p := &models.Participant{ID: 7, Health: -15, IsAlive: false}

	record := newCompletionRecord(p)
	assert.Equal(t, 0, record.FinalHealth)
	assert.True(t, record.IsEliminated)
}
