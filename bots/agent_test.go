package bots

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"zombiequiz/models"
	"zombiequiz/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource makes every random draw deterministic and known, so a test
// can force an agent to answer everything right or everything wrong.
type fixedSource struct{ v int64 }

func (s *fixedSource) Int63() int64 { return s.v }
func (s *fixedSource) Seed(int64)   {}

// alwaysCorrect: Float64() == 0, below any accuracy.
func alwaysCorrectRand() *rand.Rand { return rand.New(&fixedSource{v: 0}) }

// alwaysWrong: Float64() ~= 0.965, above the 0.95 accuracy ceiling.
func alwaysWrongRand() *rand.Rand { return rand.New(&fixedSource{v: 8_900_000_000_000_000_000}) }

func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// callbackCounter records terminal callback invocations.
type callbackCounter struct {
	mu         sync.Mutex
	joined     int
	answered   []bool
	completed  int
	eliminated int
	errored    int
	lastErr    error
}

func (c *callbackCounter) callbacks() Callbacks {
	return Callbacks{
		OnJoined: func(uint) {
			c.mu.Lock()
			c.joined++
			c.mu.Unlock()
		},
		OnAnswered: func(_ int, correct bool) {
			c.mu.Lock()
			c.answered = append(c.answered, correct)
			c.mu.Unlock()
		},
		OnCompleted: func() {
			c.mu.Lock()
			c.completed++
			c.mu.Unlock()
		},
		OnEliminated: func() {
			c.mu.Lock()
			c.eliminated++
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errored++
			c.lastErr = err
			c.mu.Unlock()
		},
	}
}

func (c *callbackCounter) terminalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed + c.eliminated + c.errored
}

func newTestSession(t *testing.T, status string, questions, options int) (*store.MemoryStore, *models.Session) {
	t.Helper()
	feed := store.NewMemoryFeed(256)
	mem := store.NewMemoryStore(feed, store.RealClock())
	session := mem.SeedSession(&models.Session{
		QuizID:        1,
		Pin:           "abc123",
		Status:        status,
		Difficulty:    models.DifficultyNormal,
		QuestionLimit: questions,
	}, makeQuestions(questions, options))
	return mem, session
}

func makeQuestions(n, options int) []models.Question {
	questions := make([]models.Question, n)
	for i := range questions {
		q := models.Question{ID: uint(i + 1), QuizID: 1, Order: i + 1}
		for j := 0; j < options; j++ {
			q.Options = append(q.Options, models.Option{
				ID:         uint(i*options + j + 1),
				QuestionID: q.ID,
				IsCorrect:  j == 0,
				Order:      j + 1,
			})
		}
		questions[i] = q
	}
	return questions
}

func newTestAgent(mem *store.MemoryStore, cb Callbacks, rng *rand.Rand, p Personality) *Agent {
	a := NewAgent(mem, "abc123", "tester", rand.New(rand.NewSource(1)), cb)
	a.rng = rng
	a.Personality = p
	a.sleep = instantSleep
	return a
}

func TestAgentCompletesWhenAlwaysCorrect(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 10, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysCorrectRand(), Personality{Aptitude: 140, ReactionSpeed: 10, Fidgetiness: 0})

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, StateCompleted, a.State())
	assert.Equal(t, 1, cb.joined)
	assert.Equal(t, 1, cb.completed)
	assert.Equal(t, 1, cb.terminalCount())
	assert.Len(t, cb.answered, 10)

	p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
	require.NoError(t, err)
	assert.Equal(t, 10, p.CorrectAnswers)
	assert.Equal(t, 100, p.Score)
	assert.Equal(t, p.MaxHealth, p.Health)
	assert.True(t, p.IsAlive)
	assert.NotNil(t, p.FinishedAt)
	assert.Len(t, p.Answers, 10)
}

func TestAgentEliminatedWhenAlwaysWrong(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 10, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysWrongRand(), Personality{Aptitude: 50, ReactionSpeed: 10, Fidgetiness: 0})

	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, StateEliminated, a.State())
	assert.Equal(t, 1, cb.eliminated)
	assert.Equal(t, 1, cb.terminalCount())

	p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
	require.NoError(t, err)
	// 100 health, 20 damage per miss: dead after exactly 5 answers.
	assert.Equal(t, 0, p.Health)
	assert.False(t, p.IsAlive)
	assert.NotNil(t, p.FinishedAt)
	assert.Len(t, p.Answers, 5)
	assert.Equal(t, 0, p.CorrectAnswers)
}

func TestAgentHonorsPerQuestionDamage(t *testing.T) {
	feed := store.NewMemoryFeed(256)
	mem := store.NewMemoryStore(feed, store.RealClock())
	questions := makeQuestions(10, 4)
	for i := range questions {
		questions[i].Damage = 50
	}
	mem.SeedSession(&models.Session{
		QuizID:        1,
		Pin:           "abc123",
		Status:        models.SessionActive,
		Difficulty:    models.DifficultyNormal,
		QuestionLimit: 10,
	}, questions)

	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysWrongRand(), Personality{Aptitude: 50, ReactionSpeed: 10, Fidgetiness: 0})
	require.NoError(t, a.Run(context.Background()))

	p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
	require.NoError(t, err)
	// 100 health against 50-damage questions: dead after two misses
	// instead of the default five.
	assert.Equal(t, 0, p.Health)
	assert.Len(t, p.Answers, 2)
	assert.Equal(t, StateEliminated, a.State())
}

func TestAgentHealthNeverNegative(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 10, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysWrongRand(), Personality{Aptitude: 50, ReactionSpeed: 10, Fidgetiness: 0})

	require.NoError(t, a.Run(context.Background()))

	p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Health, 0)
	assert.LessOrEqual(t, p.Health, p.MaxHealth)
}

func TestAgentTerminalCallbackFiresOnceEvenWhenRerun(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 5, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysCorrectRand(), Personality{Aptitude: 140, ReactionSpeed: 10, Fidgetiness: 0})

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, cb.terminalCount())

	// A second invocation on a terminal agent must not fire anything.
	_ = a.Run(context.Background())
	assert.Equal(t, 1, cb.terminalCount())
	assert.Equal(t, 1, cb.completed)
	assert.Zero(t, cb.errored)
}

func TestAgentJoinUnknownRoom(t *testing.T) {
	feed := store.NewMemoryFeed(16)
	mem := store.NewMemoryStore(feed, store.RealClock())
	cb := &callbackCounter{}
	a := NewAgent(mem, "nosuch", "tester", rand.New(rand.NewSource(1)), cb.callbacks())
	a.sleep = instantSleep

	err := a.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateErrored, a.State())
	assert.Equal(t, 1, cb.errored)
	assert.Equal(t, 1, cb.terminalCount())
	assert.ErrorIs(t, cb.lastErr, store.ErrRoomNotFound)
	assert.Zero(t, cb.joined)
}

func TestAgentStopsSilentlyOnCancel(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 10, 4)
	cb := &callbackCounter{}
	a := NewAgent(mem, "abc123", "tester", rand.New(rand.NewSource(1)), cb.callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// No callbacks, no writes.
	assert.Zero(t, cb.terminalCount())
	assert.Zero(t, cb.joined)
	participants, _ := mem.ListParticipants(context.Background(), 1)
	assert.Empty(t, participants)
}

func TestAgentLobbyFidgetThenAnswers(t *testing.T) {
	mem, session := newTestSession(t, models.SessionWaiting, 3, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysCorrectRand(), Personality{Aptitude: 100, ReactionSpeed: 10, Fidgetiness: 1})

	// Flip the session to active after the agent has fidgeted a few
	// times; the lobby loop must exit on observing the transition.
	var sleeps int
	a.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 4 {
			return mem.UpdateSessionStatus(ctx, session.ID, models.SessionActive)
		}
		return ctx.Err()
	}

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, StateCompleted, a.State())

	p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
	require.NoError(t, err)
	// Fidgetiness 1 swaps the character on every lobby beat, so the
	// version moved past the three answer writes alone.
	assert.Greater(t, p.Version, 3)
}

func TestAgentResumesFromPersistedAnswers(t *testing.T) {
	mem, _ := newTestSession(t, models.SessionActive, 6, 4)
	cb := &callbackCounter{}
	a := newTestAgent(mem, cb.callbacks(), alwaysCorrectRand(), Personality{Aptitude: 140, ReactionSpeed: 10, Fidgetiness: 0})

	// Join manually and answer two questions, then let the agent resume.
	joined, err := mem.JoinSession(context.Background(), "abc123", a.ID, a.Nickname)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		p, err := mem.GetParticipant(context.Background(), joined.ParticipantID)
		require.NoError(t, err)
		correct := p.CorrectAnswers + 1
		score := correct * (100 / 6)
		_, err = mem.UpdateParticipant(context.Background(), p.ID, p.Version, store.ParticipantUpdate{
			CorrectAnswers: &correct,
			Score:          &score,
			AppendAnswer:   &models.Answer{QuestionID: uint(i + 1), OptionID: uint(i*4 + 1), IsCorrect: true},
		})
		require.NoError(t, err)
	}

	a.Nickname = "tester-resumed"
	a.mu.Lock()
	a.participantID = joined.ParticipantID
	a.mu.Unlock()

	session, err := mem.GetSession(context.Background(), joined.SessionID)
	require.NoError(t, err)
	require.NoError(t, a.answerLoop(context.Background(), session))

	p, err := mem.GetParticipant(context.Background(), joined.ParticipantID)
	require.NoError(t, err)
	assert.Len(t, p.Answers, 6)
	assert.Equal(t, 6, p.CorrectAnswers)
	// Only the four remaining questions were reported this run.
	assert.Len(t, cb.answered, 4)
	assert.Equal(t, 1, cb.completed)
}

func TestHighAptitudeAgentsScoreWell(t *testing.T) {
	// Statistical property: aptitude 140 gives ~0.91 accuracy, so five
	// seeded agents over ten questions land far above 7/10 on average.
	totalCorrect := 0
	for seed := int64(1); seed <= 5; seed++ {
		mem, _ := newTestSession(t, models.SessionActive, 10, 4)
		cb := &callbackCounter{}
		a := newTestAgent(mem, cb.callbacks(), rand.New(rand.NewSource(seed)), Personality{Aptitude: 140, ReactionSpeed: 10, Fidgetiness: 0})
		require.NoError(t, a.Run(context.Background()))

		p, err := mem.GetParticipant(context.Background(), a.ParticipantID())
		require.NoError(t, err)
		totalCorrect += p.CorrectAnswers
	}
	assert.GreaterOrEqual(t, totalCorrect, 35, "five aptitude-140 agents should average at least 7/10")
}
