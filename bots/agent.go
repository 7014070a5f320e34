package bots

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"zombiequiz/models"
	"zombiequiz/store"

	"github.com/google/uuid"
)

// State is the lifecycle state of one agent. Terminal states are sticky:
// once reached, the agent performs no further writes.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateLobbyIdle
	StateAnswering
	StateCompleted
	StateEliminated
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateLobbyIdle:
		return "lobby_idle"
	case StateAnswering:
		return "answering"
	case StateCompleted:
		return "completed"
	case StateEliminated:
		return "eliminated"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateEliminated || s == StateErrored
}

// Callbacks report agent lifecycle events to the harness or UI. Exactly
// one of OnCompleted, OnEliminated, OnError fires per agent run that
// reaches a terminal state. Nil callbacks are skipped.
type Callbacks struct {
	OnJoined     func(participantID uint)
	OnAnswered   func(questionIndex int, wasCorrect bool)
	OnCompleted  func()
	OnEliminated func()
	OnError      func(err error)
}

// The floor speed never drops below, and the step it moves per answer.
const (
	minSpeed  = 10
	speedStep = 5
)

// Agent is one simulated participant. It shares no memory with other
// agents; every observation and effect goes through the session store.
type Agent struct {
	ID          string
	RoomCode    string
	Nickname    string
	Personality Personality

	store store.SessionStore
	rng   *rand.Rand
	cb    Callbacks

	// sleep is swapped in tests to drive think delays synthetically.
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	state         State
	terminal      bool
	participantID uint
}

// NewAgent builds an agent around a seeded random source. The source owns
// both the personality draw and every in-run decision, so a fixed seed
// replays the identical run.
func NewAgent(st store.SessionStore, roomCode, nickname string, rng *rand.Rand, cb Callbacks) *Agent {
	a := &Agent{
		ID:          uuid.NewString(),
		RoomCode:    roomCode,
		Nickname:    nickname,
		Personality: GeneratePersonality(rng),
		store:       st,
		rng:         rng,
		cb:          cb,
		sleep:       sleepContext,
		state:       StateIdle,
	}
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) ParticipantID() uint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participantID
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// enterTerminal flips the agent into a terminal state exactly once and
// returns whether this call won. The loser must not fire any callback or
// issue any further write.
func (a *Agent) enterTerminal(s State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminal {
		return false
	}
	a.terminal = true
	a.state = s
	return true
}

func (a *Agent) isTerminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminal
}

func (a *Agent) fail(err error) {
	if !a.enterTerminal(StateErrored) {
		return
	}
	log.Printf("Agent %s (%s): %v", a.ID, a.Nickname, err)
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}

// Run drives the agent through its whole lifecycle. A canceled context
// stops the agent at its next suspension point without firing terminal
// callbacks; an in-flight write that already started is allowed to land.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateJoining)

	// Humans do not all hit join at the same instant.
	if err := a.sleep(ctx, ThinkDelay(a.Personality.ReactionSpeed).Draw(a.rng)); err != nil {
		return err
	}

	joined, err := a.store.JoinSession(ctx, a.RoomCode, a.ID, a.Nickname)
	if err != nil {
		a.fail(fmt.Errorf("join failed: %w", err))
		return err
	}
	a.mu.Lock()
	a.participantID = joined.ParticipantID
	a.mu.Unlock()
	if a.cb.OnJoined != nil {
		a.cb.OnJoined(joined.ParticipantID)
	}

	session, err := a.store.GetSession(ctx, joined.SessionID)
	if err != nil {
		a.fail(fmt.Errorf("session read failed: %w", err))
		return err
	}

	if session.Status == models.SessionWaiting {
		a.setState(StateLobbyIdle)
		session, err = a.lobbyLoop(ctx, session.ID)
		if err != nil {
			return err
		}
	}

	if session.Status != models.SessionActive {
		// Session was finished before it ever went active for us.
		if a.enterTerminal(StateCompleted) && a.cb.OnCompleted != nil {
			a.cb.OnCompleted()
		}
		return nil
	}

	a.setState(StateAnswering)
	return a.answerLoop(ctx, session)
}

// lobbyLoop fidgets while the session is still waiting: every interval it
// flips a coin weighted by fidgetiness and, on heads, writes a new random
// character pick. It returns as soon as the status leaves waiting.
func (a *Agent) lobbyLoop(ctx context.Context, sessionID uint) (*models.Session, error) {
	interval := FidgetInterval(a.Personality.Fidgetiness)
	for {
		if err := a.sleep(ctx, interval); err != nil {
			return nil, err
		}

		session, err := a.store.GetSession(ctx, sessionID)
		if err != nil {
			a.fail(fmt.Errorf("session read failed: %w", err))
			return nil, err
		}
		if session.Status != models.SessionWaiting {
			return session, nil
		}

		if a.rng.Float64() >= a.Personality.Fidgetiness {
			continue
		}
		if err := a.swapCharacter(ctx); err != nil {
			// Cosmetic write; losing it is not worth ending the run.
			log.Printf("Agent %s: character swap skipped: %v", a.ID, err)
		}
	}
}

func (a *Agent) swapCharacter(ctx context.Context) error {
	p, err := a.store.GetParticipant(ctx, a.ParticipantID())
	if err != nil {
		return err
	}
	if a.isTerminal() || ctx.Err() != nil {
		return ctx.Err()
	}
	character := models.CharacterPool[a.rng.Intn(len(models.CharacterPool))]
	_, err = a.store.UpdateParticipant(ctx, p.ID, p.Version, store.ParticipantUpdate{
		Character: &character,
	})
	return err
}

// answerLoop walks the question sequence from wherever the persisted
// answer list left off, so a restarted agent resumes instead of
// re-answering.
func (a *Agent) answerLoop(ctx context.Context, session *models.Session) error {
	questions, err := a.store.GetQuestions(ctx, session.QuizID)
	if err != nil {
		a.fail(fmt.Errorf("question fetch failed: %w", err))
		return err
	}
	total := len(questions)
	if session.QuestionLimit > 0 && session.QuestionLimit < total {
		total = session.QuestionLimit
		questions = questions[:total]
	}
	if total == 0 {
		a.fail(fmt.Errorf("session %d has no questions", session.ID))
		return nil
	}

	start := 0
	if p, err := a.store.GetParticipant(ctx, a.ParticipantID()); err == nil {
		start = len(p.Answers)
	}

	delay := ThinkDelay(a.Personality.ReactionSpeed)
	accuracy := Accuracy(a.Personality.Aptitude)

	for i := start; i < total; i++ {
		if err := a.sleep(ctx, delay.Draw(a.rng)); err != nil {
			return err
		}

		// Read-before-write: derive the new record from the latest
		// persisted state, never from what we cached last round.
		p, err := a.store.GetParticipant(ctx, a.ParticipantID())
		if err != nil {
			a.fail(fmt.Errorf("participant read failed: %w", err))
			return err
		}
		if a.isTerminal() {
			return nil
		}
		if !p.IsAlive || p.FinishedAt != nil {
			a.finish(p.IsAlive)
			return nil
		}
		if len(p.Answers) > i {
			// Someone already recorded this answer (resumed run).
			continue
		}

		correct := a.rng.Float64() < accuracy
		option := pickOption(a.rng, questions[i], correct)
		if option == nil {
			log.Printf("Agent %s: question %d has no usable option, skipping", a.ID, questions[i].ID)
			continue
		}

		upd, health := a.buildAnswerUpdate(p, &questions[i], option.ID, correct, i+1 >= total, total)
		if ctx.Err() != nil {
			// Stop signal seen before the write: stay silent.
			return ctx.Err()
		}
		if _, err := a.store.UpdateParticipant(ctx, p.ID, p.Version, upd); err != nil {
			if err == store.ErrVersionConflict {
				log.Printf("Agent %s: write conflict on question %d, skipping iteration", a.ID, i)
				i-- // retry the same question from fresh state next round
				continue
			}
			a.fail(fmt.Errorf("answer write failed: %w", err))
			return err
		}

		if a.cb.OnAnswered != nil {
			a.cb.OnAnswered(i, correct)
		}

		if health <= 0 {
			a.finish(false)
			return nil
		}
	}

	a.finish(true)
	return nil
}

// buildAnswerUpdate computes the post-answer record from the freshly read
// participant. Returns the update and the health it will leave behind.
func (a *Agent) buildAnswerUpdate(p *models.Participant, q *models.Question, optionID uint, correct, last bool, total int) (store.ParticipantUpdate, int) {
	correctAnswers := p.CorrectAnswers
	health := p.Health
	speed := p.Speed
	if correct {
		correctAnswers++
		speed += speedStep
	} else {
		speed -= speedStep
		health -= q.WrongDamage()
	}
	if speed < minSpeed {
		speed = minSpeed
	}
	if health < 0 {
		health = 0
	}
	score := correctAnswers * (100 / total)
	now := time.Now()

	upd := store.ParticipantUpdate{
		Score:          &score,
		CorrectAnswers: &correctAnswers,
		Health:         &health,
		Speed:          &speed,
		LastAnswerAt:   &now,
		AppendAnswer: &models.Answer{
			QuestionID: q.ID,
			OptionID:   optionID,
			IsCorrect:  correct,
		},
	}
	if health <= 0 {
		alive := false
		upd.IsAlive = &alive
		upd.FinishedAt = &now
	} else if last {
		upd.FinishedAt = &now
	}
	return upd, health
}

// finish fires the single terminal callback.
func (a *Agent) finish(completed bool) {
	if completed {
		if a.enterTerminal(StateCompleted) && a.cb.OnCompleted != nil {
			a.cb.OnCompleted()
		}
		return
	}
	if a.enterTerminal(StateEliminated) && a.cb.OnEliminated != nil {
		a.cb.OnEliminated()
	}
}

// pickOption returns the correct option, or a uniformly random incorrect
// one when the agent decided to miss.
func pickOption(r *rand.Rand, q models.Question, correct bool) *models.Option {
	var wrong []*models.Option
	for i := range q.Options {
		opt := &q.Options[i]
		if opt.IsCorrect {
			if correct {
				return opt
			}
			continue
		}
		wrong = append(wrong, opt)
	}
	if correct || len(wrong) == 0 {
		// Missing correct option, or nothing wrong to pick: fall back to
		// anything available.
		if len(q.Options) == 0 {
			return nil
		}
		return &q.Options[r.Intn(len(q.Options))]
	}
	return wrong[r.Intn(len(wrong))]
}
