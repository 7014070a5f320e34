package store

import (
	"context"
	"strings"
	"sync"

	"zombiequiz/models"
)

// MemoryFeed is an in-process fanout bus. Publish appends to every
// matching subscriber's buffer in one critical section, so per-record
// commit order survives the fanout.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[*memorySub]bool
	buffer int
}

func NewMemoryFeed(buffer int) *MemoryFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryFeed{
		subs:   make(map[*memorySub]bool),
		buffer: buffer,
	}
}

type memorySub struct {
	feed   *MemoryFeed
	filter Filter
	ch     chan ChangeEvent
	once   sync.Once
}

func (s *memorySub) Events() <-chan ChangeEvent { return s.ch }

func (s *memorySub) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closeLocked()
}

func (s *memorySub) closeLocked() {
	if s.feed.subs[s] {
		delete(s.feed.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

func (f *MemoryFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	sub := &memorySub{
		feed:   f,
		filter: filter,
		ch:     make(chan ChangeEvent, f.buffer),
	}
	f.mu.Lock()
	f.subs[sub] = true
	f.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

func (f *MemoryFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: drop it rather than block every writer.
			sub.closeLocked()
		}
	}
	return nil
}

// MemoryStore is an in-process SessionStore used by tests and by the load
// harness in dry-run mode. All mutations happen under one mutex and the
// change event is published before the lock is released, so feed order
// matches commit order.
type MemoryStore struct {
	mu           sync.Mutex
	feed         *MemoryFeed
	clock        Clock
	sessions     map[uint]*models.Session
	participants map[uint]*models.Participant
	answers      map[uint][]models.Answer // participant id -> ordered answers
	questions    map[uint][]models.Question
	nextID       uint
}

func NewMemoryStore(feed *MemoryFeed, clock Clock) *MemoryStore {
	if clock == nil {
		clock = RealClock()
	}
	return &MemoryStore{
		feed:         feed,
		clock:        clock,
		sessions:     make(map[uint]*models.Session),
		participants: make(map[uint]*models.Participant),
		answers:      make(map[uint][]models.Answer),
		questions:    make(map[uint][]models.Question),
		nextID:       1,
	}
}

func (m *MemoryStore) allocID() uint {
	id := m.nextID
	m.nextID++
	return id
}

// SeedSession installs a session and its question set for tests and
// dry runs.
func (m *MemoryStore) SeedSession(s *models.Session, questions []models.Question) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.allocID()
	}
	if s.Status == "" {
		s.Status = models.SessionWaiting
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.questions[s.QuizID] = questions
	return s
}

func (m *MemoryStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if strings.EqualFold(s.Pin, pin) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (m *MemoryStore) UpdateSessionStatus(ctx context.Context, id uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	old := *s
	s.Status = status
	now := m.clock.Now()
	switch status {
	case models.SessionActive:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case models.SessionFinished:
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
	}
	s.UpdatedAt = now
	m.publishLocked(ChangeEvent{
		Table:      TableSessions,
		Operation:  OpUpdate,
		SessionID:  s.ID,
		NewSession: copySession(s),
		OldSession: &old,
	})
	return nil
}

func (m *MemoryStore) GetParticipant(ctx context.Context, id uint) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyParticipantLocked(p), nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, sessionID uint) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Participant
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			out = append(out, *m.copyParticipantLocked(p))
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createParticipantLocked(p)
}

func (m *MemoryStore) createParticipantLocked(p *models.Participant) error {
	if _, ok := m.sessions[p.SessionID]; !ok {
		return ErrNotFound
	}
	p.ID = m.allocID()
	now := m.clock.Now()
	p.JoinedAt = now
	p.CreatedAt = now
	p.IsAlive = p.Health > 0
	cp := *p
	m.participants[p.ID] = &cp
	m.publishLocked(ChangeEvent{
		Table:          TableParticipants,
		Operation:      OpInsert,
		SessionID:      p.SessionID,
		NewParticipant: m.copyParticipantLocked(&cp),
	})
	return nil
}

func (m *MemoryStore) UpdateParticipant(ctx context.Context, id uint, expectedVersion int, upd ParticipantUpdate) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	old := m.copyParticipantLocked(p)

	applyUpdate(p, upd)
	if p.Health < 0 {
		p.Health = 0
	}
	if p.Health > p.MaxHealth {
		p.Health = p.MaxHealth
	}
	if upd.AppendAnswer != nil {
		a := *upd.AppendAnswer
		a.ID = m.allocID()
		a.ParticipantID = p.ID
		a.SessionID = p.SessionID
		a.AnswerIndex = len(m.answers[p.ID])
		a.CreatedAt = m.clock.Now()
		m.answers[p.ID] = append(m.answers[p.ID], a)
	}
	p.Version++
	p.UpdatedAt = m.clock.Now()

	cp := m.copyParticipantLocked(p)
	m.publishLocked(ChangeEvent{
		Table:          TableParticipants,
		Operation:      OpUpdate,
		SessionID:      p.SessionID,
		NewParticipant: cp,
		OldParticipant: old,
	})
	out := *cp
	return &out, nil
}

// JoinSession runs the whole find-check-create sequence in one critical
// section so two racing joins with the same nickname cannot both pass
// the uniqueness check.
func (m *MemoryStore) JoinSession(ctx context.Context, roomCode, clientID, nickname string) (*JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *models.Session
	for _, s := range m.sessions {
		if strings.EqualFold(s.Pin, roomCode) {
			target = s
			break
		}
	}
	if target == nil {
		return nil, ErrRoomNotFound
	}
	if target.Status == models.SessionFinished {
		return nil, ErrSessionLocked
	}
	for _, p := range m.participants {
		if p.SessionID == target.ID && p.Nickname == nickname {
			return nil, ErrNicknameTaken
		}
	}

	maxHealth := models.MaxHealthFor(target.Difficulty)
	p := &models.Participant{
		SessionID: target.ID,
		Nickname:  nickname,
		Character: models.CharacterPool[0],
		Health:    maxHealth,
		MaxHealth: maxHealth,
		Speed:     50,
		IsAlive:   true,
	}
	if err := m.createParticipantLocked(p); err != nil {
		return nil, err
	}
	return &JoinResult{
		ParticipantID: p.ID,
		SessionID:     target.ID,
		GamePin:       target.Pin,
		Character:     p.Character,
	}, nil
}

func (m *MemoryStore) GetQuestions(ctx context.Context, quizID uint) ([]models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.questions[quizID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (m *MemoryStore) publishLocked(ev ChangeEvent) {
	if m.feed != nil {
		_ = m.feed.Publish(context.Background(), ev)
	}
}

func (m *MemoryStore) copyParticipantLocked(p *models.Participant) *models.Participant {
	cp := *p
	if ans := m.answers[p.ID]; len(ans) > 0 {
		cp.Answers = make([]models.Answer, len(ans))
		copy(cp.Answers, ans)
	}
	return &cp
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	return &cp
}

func applyUpdate(p *models.Participant, upd ParticipantUpdate) {
	if upd.Character != nil {
		p.Character = *upd.Character
	}
	if upd.Score != nil {
		p.Score = *upd.Score
	}
	if upd.CorrectAnswers != nil {
		p.CorrectAnswers = *upd.CorrectAnswers
	}
	if upd.Health != nil {
		p.Health = *upd.Health
	}
	if upd.Speed != nil {
		p.Speed = *upd.Speed
	}
	if upd.LastAnswerAt != nil {
		p.LastAnswerAt = upd.LastAnswerAt
	}
	if upd.LastAttackAt != nil {
		p.LastAttackAt = upd.LastAttackAt
	}
	if upd.IsBeingAttacked != nil {
		p.IsBeingAttacked = *upd.IsBeingAttacked
	}
	if upd.IsAlive != nil {
		p.IsAlive = *upd.IsAlive
	}
	if upd.FinishedAt != nil && p.FinishedAt == nil {
		p.FinishedAt = upd.FinishedAt
	}
}

var _ SessionStore = (*MemoryStore)(nil)
var _ ChangeFeed = (*MemoryFeed)(nil)
