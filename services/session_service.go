package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"zombiequiz/models"
	"zombiequiz/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SessionService owns the session lifecycle: creating a room, opening it
// for play, joining, and the host-facing views of it. Participant writes
// go through the SessionStore so every mutation lands on the change feed.
type SessionService struct {
	db    *gorm.DB
	redis *redis.Client
	store store.SessionStore
}

func NewSessionService(db *gorm.DB, redisClient *redis.Client, st store.SessionStore) *SessionService {
	return &SessionService{
		db:    db,
		redis: redisClient,
		store: st,
	}
}

type CreateSessionRequest struct {
	QuizID        uint   `json:"quiz_id" binding:"required"`
	Difficulty    string `json:"difficulty"`
	QuestionLimit int    `json:"question_limit"`
	Duration      int    `json:"duration"`
}

type JoinSessionRequest struct {
	Pin      string `json:"pin" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
	ClientID string `json:"client_id"`
}

type SubmitAnswerRequest struct {
	ParticipantID uint `json:"participant_id" binding:"required"`
	Version       int  `json:"version"`
	QuestionID    uint `json:"question_id" binding:"required"`
	OptionID      uint `json:"option_id" binding:"required"`
}

// SessionView is the hot state cached in redis for quick reads and
// websocket sync.
type SessionView struct {
	SessionID      uint              `json:"session_id"`
	QuizID         uint              `json:"quiz_id"`
	Pin            string            `json:"pin"`
	Status         string            `json:"status"`
	Difficulty     string            `json:"difficulty"`
	TotalQuestions int               `json:"total_questions"`
	Participants   []ParticipantView `json:"participants"`
}

type ParticipantView struct {
	ID             uint   `json:"id"`
	Nickname       string `json:"nickname"`
	Character      string `json:"character"`
	Score          int    `json:"score"`
	Health         int    `json:"health"`
	MaxHealth      int    `json:"max_health"`
	Speed          int    `json:"speed"`
	IsAlive        bool   `json:"is_alive"`
	CorrectAnswers int    `json:"correct_answers"`
}

func (s *SessionService) CreateSession(userID uint, req *CreateSessionRequest) (*models.Session, error) {
	var quiz models.Quiz
	if err := s.db.Where("id = ? AND user_id = ?", req.QuizID, userID).
		Preload("Questions").
		First(&quiz).Error; err != nil {
		return nil, errors.New("quiz not found")
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyNormal
	}
	switch difficulty {
	case models.DifficultyEasy, models.DifficultyNormal, models.DifficultyHard:
	default:
		return nil, fmt.Errorf("unknown difficulty '%s'", difficulty)
	}

	limit := req.QuestionLimit
	if limit <= 0 || limit > len(quiz.Questions) {
		limit = len(quiz.Questions)
	}
	duration := req.Duration
	if duration <= 0 {
		duration = 180
	}

	session := models.Session{
		QuizID:        req.QuizID,
		Pin:           s.generatePin(),
		Status:        models.SessionWaiting,
		Difficulty:    difficulty,
		QuestionLimit: limit,
		Duration:      duration,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, err
	}

	view := &SessionView{
		SessionID:      session.ID,
		QuizID:         session.QuizID,
		Pin:            session.Pin,
		Status:         session.Status,
		Difficulty:     session.Difficulty,
		TotalQuestions: limit,
		Participants:   []ParticipantView{},
	}
	if err := s.storeView(session.Pin, view); err != nil {
		log.Printf("Failed to cache session view: %v", err)
	}
	return &session, nil
}

// StartSession flips the room from waiting to active. Lobby loops on
// every client terminate on observing the transition.
func (s *SessionService) StartSession(ctx context.Context, pin string, userID uint) (*models.Session, error) {
	session, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session.QuizID, userID); err != nil {
		return nil, err
	}
	if session.Status != models.SessionWaiting {
		return nil, fmt.Errorf("session has status '%s' - cannot start", session.Status)
	}
	if err := s.store.UpdateSessionStatus(ctx, session.ID, models.SessionActive); err != nil {
		return nil, err
	}
	s.refreshView(ctx, session.Pin, session.ID)
	return s.store.GetSessionByPin(ctx, pin)
}

// Join delegates to the store's join procedure and refreshes the cached
// view so late websocket clients see the participant immediately.
func (s *SessionService) Join(ctx context.Context, req *JoinSessionRequest) (*store.JoinResult, error) {
	res, err := s.store.JoinSession(ctx, strings.ToLower(req.Pin), req.ClientID, req.Nickname)
	if err != nil {
		return nil, err
	}
	s.refreshView(ctx, res.GamePin, res.SessionID)
	return res, nil
}

// SubmitAnswer is the real-player write path: it applies the same
// read-before-write arithmetic bots use, against whatever version the
// client last saw.
func (s *SessionService) SubmitAnswer(ctx context.Context, pin string, req *SubmitAnswerRequest) (*models.Participant, error) {
	session, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, errors.New("session is not active")
	}

	p, err := s.store.GetParticipant(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p.SessionID != session.ID {
		return nil, errors.New("participant does not belong to this session")
	}
	if !p.IsAlive || p.FinishedAt != nil {
		return nil, errors.New("participant already finished")
	}
	for _, a := range p.Answers {
		if a.QuestionID == req.QuestionID {
			return nil, errors.New("answer already submitted")
		}
	}

	var option models.Option
	if err := s.db.First(&option, req.OptionID).Error; err != nil {
		return nil, errors.New("option not found")
	}
	if option.QuestionID != req.QuestionID {
		return nil, errors.New("option does not belong to question")
	}
	var question models.Question
	if err := s.db.First(&question, req.QuestionID).Error; err != nil {
		return nil, errors.New("question not found")
	}

	total := session.QuestionLimit
	if total <= 0 {
		total = 1
	}
	correctAnswers := p.CorrectAnswers
	health := p.Health
	speed := p.Speed
	if option.IsCorrect {
		correctAnswers++
		speed += 5
	} else {
		speed -= 5
		health -= question.WrongDamage()
	}
	if speed < 10 {
		speed = 10
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
			QuestionID: req.QuestionID,
			OptionID:   req.OptionID,
			IsCorrect:  option.IsCorrect,
		},
	}
	answered := len(p.Answers) + 1
	if health <= 0 {
		alive := false
		upd.IsAlive = &alive
		upd.FinishedAt = &now
	} else if answered >= total {
		upd.FinishedAt = &now
	}

	updated, err := s.store.UpdateParticipant(ctx, p.ID, req.Version, upd)
	if err != nil {
		return nil, err
	}
	s.refreshView(ctx, session.Pin, session.ID)
	return updated, nil
}

func (s *SessionService) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	session, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Participants = participants
	return session, nil
}

// Leaderboard orders alive participants first, then by score.
func (s *SessionService) Leaderboard(ctx context.Context, sessionID uint) ([]ParticipantView, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView(p))
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].IsAlive != views[j].IsAlive {
			return views[i].IsAlive
		}
		return views[i].Score > views[j].Score
	})
	return views, nil
}

func (s *SessionService) checkOwnership(quizID, userID uint) error {
	var quiz models.Quiz
	if err := s.db.Where("id = ? AND user_id = ?", quizID, userID).First(&quiz).Error; err != nil {
		return errors.New("unauthorized to control this session")
	}
	return nil
}

func (s *SessionService) generatePin() string {
	bytes := make([]byte, 3)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:6]
}

func participantView(p models.Participant) ParticipantView {
	return ParticipantView{
		ID:             p.ID,
		Nickname:       p.Nickname,
		Character:      p.Character,
		Score:          p.Score,
		Health:         p.Health,
		MaxHealth:      p.MaxHealth,
		Speed:          p.Speed,
		IsAlive:        p.IsAlive,
		CorrectAnswers: p.CorrectAnswers,
	}
}

// refreshView rebuilds the cached redis view from current store state.
func (s *SessionService) refreshView(ctx context.Context, pin string, sessionID uint) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("Failed to refresh session view for %s: %v", pin, err)
		return
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		log.Printf("Failed to refresh session view for %s: %v", pin, err)
		return
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView(p))
	}
	view := &SessionView{
		SessionID:      session.ID,
		QuizID:         session.QuizID,
		Pin:            session.Pin,
		Status:         session.Status,
		Difficulty:     session.Difficulty,
		TotalQuestions: session.QuestionLimit,
		Participants:   views,
	}
	if err := s.storeView(pin, view); err != nil {
		log.Printf("Failed to cache session view for %s: %v", pin, err)
	}
}

func (s *SessionService) storeView(pin string, view *SessionView) error {
	if s.redis == nil {
		return nil
	}
	normalizedPin := strings.ToLower(pin)
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal session view: %v", err)
	}
	return s.redis.Set(context.Background(), "session:"+normalizedPin, data, 2*time.Hour).Err()
}

// GetView returns the cached view, falling back to a rebuild from the
// store when redis has nothing.
func (s *SessionService) GetView(ctx context.Context, pin string) (*SessionView, error) {
	normalizedPin := strings.ToLower(pin)
	if s.redis != nil {
		data, err := s.redis.Get(ctx, "session:"+normalizedPin).Result()
		if err == nil {
			var view SessionView
			if err := json.Unmarshal([]byte(data), &view); err == nil {
				return &view, nil
			}
		} else if err != redis.Nil {
			log.Printf("Redis error reading session view for %s: %v", normalizedPin, err)
		}
	}

	session, err := s.store.GetSessionByPin(ctx, normalizedPin)
	if err != nil {
		return nil, err
	}
	s.refreshView(ctx, normalizedPin, session.ID)
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView(p))
	}
	return &SessionView{
		SessionID:      session.ID,
		QuizID:         session.QuizID,
		Pin:            session.Pin,
		Status:         session.Status,
		Difficulty:     session.Difficulty,
		TotalQuestions: session.QuestionLimit,
		Participants:   views,
	}, nil
}
