package services

import (
	"context"
	"log"
	"sync"
	"time"

	"zombiequiz/models"
	"zombiequiz/store"

	"github.com/gin-gonic/gin"
)

const (
	// One attack sequence completes in exactly attackTicks ticks.
	attackTicks        = 30
	attackProgressStep = 1.0 / attackTicks
	defaultTickEvery   = 50 * time.Millisecond
	defaultSettleDelay = 1500 * time.Millisecond
)

const (
	DisplayNormal = "normal"
	DisplayPanic  = "panic"
)

// ZombieState is the host-local snapshot the rendering layer consumes.
// It lives only for the lifetime of the coordinator, never persisted.
type ZombieState struct {
	IsAttacking     bool    `json:"is_attacking"`
	TargetID        uint    `json:"target_id"`
	Progress        float64 `json:"progress"`
	BasePosition    float64 `json:"base_position"`
	CurrentPosition float64 `json:"current_position"`
	DisplayMode     string  `json:"display_mode"`
	QueueLength     int     `json:"queue_length"`
}

// Broadcaster pushes coordinator output to rendering clients.
type Broadcaster interface {
	BroadcastToSession(pin string, messageType string, payload interface{})
}

// Recorder persists terminal outcomes; satisfied by CompletionRecorder.
type Recorder interface {
	Record(ctx context.Context, p *models.Participant, totalQuestions int) error
}

// AttackCoordinator serializes the zombie's attack sequences for one
// session. It is a single goroutine fed by the change feed and one
// progress ticker; concurrent health drops are queued FIFO (deduplicated)
// so no two sequences ever overlap.
type AttackCoordinator struct {
	sessionID uint
	pin       string

	store       store.SessionStore
	feed        store.ChangeFeed
	clock       store.Clock
	broadcaster Broadcaster
	recorder    Recorder

	tickEvery   time.Duration
	settleDelay time.Duration

	mu            sync.Mutex
	state         ZombieState
	progressTicks int
	queue         []uint

	finishArmedAt  *time.Time
	finishIssued   bool
	sessionDone    bool
	totalQuestions int

	recorded map[uint]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewAttackCoordinator(st store.SessionStore, feed store.ChangeFeed, clock store.Clock, b Broadcaster, rec Recorder, session *models.Session) *AttackCoordinator {
	if clock == nil {
		clock = store.RealClock()
	}
	return &AttackCoordinator{
		sessionID:      session.ID,
		pin:            session.Pin,
		store:          st,
		feed:           feed,
		clock:          clock,
		broadcaster:    b,
		recorder:       rec,
		tickEvery:      defaultTickEvery,
		settleDelay:    defaultSettleDelay,
		totalQuestions: session.QuestionLimit,
		state:          ZombieState{DisplayMode: DisplayNormal, BasePosition: 0.1},
		recorded:       make(map[uint]bool),
		done:           make(chan struct{}),
	}
}

// Start subscribes and launches the loop. It returns once the
// subscription is live.
func (c *AttackCoordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	sub, err := c.feed.Subscribe(runCtx, store.Filter{SessionID: c.sessionID})
	if err != nil {
		cancel()
		close(c.done)
		return err
	}
	ticker := c.clock.NewTicker(c.tickEvery)

	go func() {
		defer close(c.done)
		defer ticker.Stop()
		defer sub.Close()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				c.handleEvent(runCtx, ev)
			case now := <-ticker.C():
				c.handleTick(runCtx, now)
			}
		}
	}()
	return nil
}

// Stop is a no-op on a coordinator that was never started.
func (c *AttackCoordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// State returns a snapshot for the rendering layer.
func (c *AttackCoordinator) State() ZombieState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.QueueLength = len(c.queue)
	return s
}

func (c *AttackCoordinator) handleEvent(ctx context.Context, ev store.ChangeEvent) {
	switch ev.Table {
	case store.TableSessions:
		if ev.NewSession != nil && ev.NewSession.Status == models.SessionFinished {
			c.mu.Lock()
			c.sessionDone = true
			c.mu.Unlock()
		}
	case store.TableParticipants:
		c.handleParticipantEvent(ctx, ev)
	}
}

func (c *AttackCoordinator) handleParticipantEvent(ctx context.Context, ev store.ChangeEvent) {
	newP, oldP := ev.NewParticipant, ev.OldParticipant
	if newP == nil {
		return
	}

	// A health drop on a participant who was alive before it is what
	// triggers an attack sequence. Drops on already-eliminated
	// participants are ignored.
	if oldP != nil && oldP.IsAlive && newP.Health < oldP.Health {
		c.triggerAttack(newP.ID)
	}

	// Terminal transition: record the outcome once.
	justFinished := newP.FinishedAt != nil && (oldP == nil || oldP.FinishedAt == nil)
	justDied := !newP.IsAlive && (oldP == nil || oldP.IsAlive)
	if justFinished || justDied {
		c.recordCompletion(ctx, newP)
		c.checkSessionComplete(ctx)
	}
}

func (c *AttackCoordinator) triggerAttack(target uint) {
	c.mu.Lock()
	if c.state.IsAttacking {
		if c.state.TargetID == target {
			// Already working this target; the ongoing sequence absorbs it.
			c.mu.Unlock()
			return
		}
		for _, id := range c.queue {
			if id == target {
				c.mu.Unlock()
				return
			}
		}
		c.queue = append(c.queue, target)
		queueLen := len(c.queue)
		c.mu.Unlock()
		log.Printf("Attack queued for participant %d in session %s (queue length %d)", target, c.pin, queueLen)
		return
	}
	c.beginAttackLocked(target)
	c.mu.Unlock()
}

// beginAttackLocked flips to Attacking(target, 0). Caller holds c.mu.
func (c *AttackCoordinator) beginAttackLocked(target uint) {
	c.state.IsAttacking = true
	c.state.TargetID = target
	c.state.Progress = 0
	c.progressTicks = 0
	c.state.CurrentPosition = c.state.BasePosition
	c.state.DisplayMode = DisplayPanic
	c.broadcast("attack_start", gin.H{
		"target_id":    target,
		"display_mode": DisplayPanic,
	})
}

func (c *AttackCoordinator) handleTick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	if c.state.IsAttacking {
		c.progressTicks++
		c.state.Progress = float64(c.progressTicks) * attackProgressStep
		c.state.CurrentPosition = c.state.BasePosition + (1-c.state.BasePosition)*c.state.Progress
		if c.progressTicks >= attackTicks {
			finished := c.state.TargetID
			if len(c.queue) > 0 {
				next := c.queue[0]
				c.queue = c.queue[1:]
				c.broadcast("attack_end", gin.H{"target_id": finished})
				c.beginAttackLocked(next)
			} else {
				c.state.IsAttacking = false
				c.state.TargetID = 0
				c.state.Progress = 0
				c.progressTicks = 0
				c.state.CurrentPosition = c.state.BasePosition
				c.state.DisplayMode = DisplayNormal
				c.broadcast("attack_end", gin.H{
					"target_id":    finished,
					"display_mode": DisplayNormal,
				})
			}
		} else {
			c.broadcast("attack_progress", gin.H{
				"target_id": c.state.TargetID,
				"progress":  c.state.Progress,
				"position":  c.state.CurrentPosition,
			})
		}
	}

	armedAt := c.finishArmedAt
	issued := c.finishIssued
	done := c.sessionDone
	c.mu.Unlock()

	if armedAt != nil && !issued && !done && !now.Before(*armedAt) {
		c.issueFinish(ctx)
	}
}

// checkSessionComplete arms the settle timer once nobody is both alive
// and still playing. The delay lets the in-flight attack animation land
// before the room is closed.
func (c *AttackCoordinator) checkSessionComplete(ctx context.Context) {
	participants, err := c.store.ListParticipants(ctx, c.sessionID)
	if err != nil {
		log.Printf("Failed to list participants for session %s: %v", c.pin, err)
		return
	}
	if len(participants) == 0 {
		return
	}
	for _, p := range participants {
		if p.IsAlive && p.FinishedAt == nil {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finishArmedAt != nil || c.finishIssued || c.sessionDone {
		return
	}
	at := c.clock.Now().Add(c.settleDelay)
	c.finishArmedAt = &at
}

// issueFinish writes the terminal status exactly once, even if the
// trigger re-fires before the status change comes back on the feed.
func (c *AttackCoordinator) issueFinish(ctx context.Context) {
	c.mu.Lock()
	if c.finishIssued || c.sessionDone {
		c.mu.Unlock()
		return
	}
	c.finishIssued = true
	c.mu.Unlock()

	if err := c.store.UpdateSessionStatus(ctx, c.sessionID, models.SessionFinished); err != nil {
		log.Printf("Failed to finish session %s: %v", c.pin, err)
		return
	}
	log.Printf("Session %s finished: no alive participants remaining", c.pin)
	c.broadcast("session_finished", gin.H{"session_id": c.sessionID})
}

func (c *AttackCoordinator) recordCompletion(ctx context.Context, p *models.Participant) {
	if c.recorder == nil {
		return
	}
	c.mu.Lock()
	if c.recorded[p.ID] {
		c.mu.Unlock()
		return
	}
	c.recorded[p.ID] = true
	c.mu.Unlock()

	if err := c.recorder.Record(ctx, p, c.totalQuestions); err != nil {
		log.Printf("Failed to record completion for participant %d: %v", p.ID, err)
	}
}

func (c *AttackCoordinator) broadcast(messageType string, payload interface{}) {
	if c.broadcaster == nil {
		return
	}
	c.broadcaster.BroadcastToSession(c.pin, messageType, payload)
}

// CoordinatorSet tracks one running coordinator per active session.
type CoordinatorSet struct {
	mu           sync.Mutex
	coordinators map[uint]*AttackCoordinator
}

func NewCoordinatorSet() *CoordinatorSet {
	return &CoordinatorSet{coordinators: make(map[uint]*AttackCoordinator)}
}

func (s *CoordinatorSet) Add(c *AttackCoordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinators[c.sessionID] = c
}

func (s *CoordinatorSet) Get(sessionID uint) (*AttackCoordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coordinators[sessionID]
	return c, ok
}

func (s *CoordinatorSet) StopAll() {
	s.mu.Lock()
	coordinators := make([]*AttackCoordinator, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		coordinators = append(coordinators, c)
	}
	s.coordinators = make(map[uint]*AttackCoordinator)
	s.mu.Unlock()
	for _, c := range coordinators {
		c.Stop()
	}
}
