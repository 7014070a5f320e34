package store

import (
	"context"
	"errors"
	"time"

	"zombiequiz/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionLocked   = errors.New("session locked")
	ErrNicknameTaken   = errors.New("nickname already taken")
	ErrVersionConflict = errors.New("participant version conflict")
)

const (
	TableParticipants = "participants"
	TableSessions     = "sessions"
)

type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent is one row-level change notification. Events for the same
// record are delivered in commit order; no ordering is promised across
// records.
type ChangeEvent struct {
	Table     string   `json:"table"`
	Operation ChangeOp `json:"operation"`
	SessionID uint     `json:"session_id"`

	NewParticipant *models.Participant `json:"new_participant,omitempty"`
	OldParticipant *models.Participant `json:"old_participant,omitempty"`
	NewSession     *models.Session     `json:"new_session,omitempty"`
	OldSession     *models.Session     `json:"old_session,omitempty"`
}

// Filter narrows a subscription. Zero values match everything.
type Filter struct {
	SessionID uint
	Table     string
}

func (f Filter) Matches(ev ChangeEvent) bool {
	if f.SessionID != 0 && ev.SessionID != f.SessionID {
		return false
	}
	if f.Table != "" && ev.Table != f.Table {
		return false
	}
	return true
}

type Subscription interface {
	// Events is closed when the subscription is torn down.
	Events() <-chan ChangeEvent
	Close()
}

type ChangeFeed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	Publish(ctx context.Context, ev ChangeEvent) error
}

// ParticipantUpdate lists the fields a writer wants to change. Nil fields
// are left untouched. AppendAnswer adds one row to the participant's
// answer sequence in the same commit.
type ParticipantUpdate struct {
	Character       *string
	Score           *int
	CorrectAnswers  *int
	Health          *int
	Speed           *int
	LastAnswerAt    *time.Time
	LastAttackAt    *time.Time
	IsBeingAttacked *bool
	IsAlive         *bool
	FinishedAt      *time.Time

	AppendAnswer *models.Answer
}

// JoinResult is what a client gets back from a successful join.
type JoinResult struct {
	ParticipantID uint   `json:"participant_id"`
	SessionID     uint   `json:"session_id"`
	GamePin       string `json:"game_pin"`
	Character     string `json:"character"`
}

// SessionStore is the shared mutable session record all actors coordinate
// through. Participant writes carry the version the writer last read;
// a concurrent write in between surfaces as ErrVersionConflict instead of
// being silently overwritten.
type SessionStore interface {
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	GetSessionByPin(ctx context.Context, pin string) (*models.Session, error)
	UpdateSessionStatus(ctx context.Context, id uint, status string) error

	GetParticipant(ctx context.Context, id uint) (*models.Participant, error)
	ListParticipants(ctx context.Context, sessionID uint) ([]models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipant(ctx context.Context, id uint, expectedVersion int, upd ParticipantUpdate) (*models.Participant, error)

	JoinSession(ctx context.Context, roomCode, clientID, nickname string) (*JoinResult, error)

	GetQuestions(ctx context.Context, quizID uint) ([]models.Question, error)
}

// Clock abstracts time so state machines can be driven deterministically
// in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

func RealClock() Clock { return realClock{} }
