package services

import (
	"errors"
	"fmt"

	"zombiequiz/models"

	"gorm.io/gorm"
)

// QuizService owns the authoring side: the question sets that sessions
// are run from. A quiz referenced by an unfinished session is frozen so
// a mid-game edit cannot change the chase under the players.
type QuizService struct {
	db *gorm.DB
}

func NewQuizService(db *gorm.DB) *QuizService {
	return &QuizService{db: db}
}

type CreateQuizRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Questions   []QuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

type QuestionRequest struct {
	Text      string          `json:"text" binding:"required"`
	TimeLimit int             `json:"time_limit" binding:"required,min=5,max=300"`
	Damage    int             `json:"damage" binding:"min=0,max=100"`
	Order     int             `json:"order" binding:"required"`
	Options   []OptionRequest `json:"options" binding:"required,min=2,max=6,dive"`
}

type OptionRequest struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order" binding:"required"`
}

type UpdateQuizRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Questions   []QuestionRequest `json:"questions" binding:"omitempty,min=1,dive"`
}

// validateQuestion enforces what the answer mechanics rely on: exactly
// one correct option, so a missing agent always has a wrong one to pick.
func validateQuestion(index int, q QuestionRequest) error {
	correct := 0
	for _, opt := range q.Options {
		if opt.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("question %d must have exactly one correct option, got %d", index+1, correct)
	}
	return nil
}

func (s *QuizService) CreateQuiz(userID uint, req *CreateQuizRequest) (*models.Quiz, error) {
	for i, q := range req.Questions {
		if err := validateQuestion(i, q); err != nil {
			return nil, err
		}
	}

	quiz := models.Quiz{
		Title:       req.Title,
		Description: req.Description,
		UserID:      userID,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&quiz).Error; err != nil {
			return err
		}
		return createQuestions(tx, quiz.ID, req.Questions)
	})
	if err != nil {
		return nil, err
	}
	return s.GetQuizByID(quiz.ID, userID)
}

func createQuestions(tx *gorm.DB, quizID uint, questions []QuestionRequest) error {
	for _, qReq := range questions {
		question := models.Question{
			QuizID:    quizID,
			Text:      qReq.Text,
			TimeLimit: qReq.TimeLimit,
			Damage:    qReq.Damage,
			Order:     qReq.Order,
		}
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
		for _, optReq := range qReq.Options {
			option := models.Option{
				QuestionID: question.ID,
				Text:       optReq.Text,
				IsCorrect:  optReq.IsCorrect,
				Order:      optReq.Order,
			}
			if err := tx.Create(&option).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *QuizService) GetUserQuizzes(userID uint) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := withContent(s.db.Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&quizzes).Error
	return quizzes, err
}

func (s *QuizService) GetQuizByID(quizID uint, userID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := withContent(s.db.Where("id = ? AND user_id = ?", quizID, userID)).
		First(&quiz).Error
	return &quiz, err
}

// withContent loads questions and options in play order.
func withContent(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.order")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("options.order")
		})
}

func (s *QuizService) UpdateQuiz(quizID uint, userID uint, req *UpdateQuizRequest) (*models.Quiz, error) {
	quiz, err := s.GetQuizByID(quizID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkNotInPlay(quizID); err != nil {
		return nil, err
	}
	for i, q := range req.Questions {
		if err := validateQuestion(i, q); err != nil {
			return nil, err
		}
	}

	if req.Title != "" {
		quiz.Title = req.Title
	}
	if req.Description != "" {
		quiz.Description = req.Description
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(quiz).Error; err != nil {
			return err
		}
		if req.Questions == nil {
			return nil
		}
		// Replacing the question set drops the old one wholesale.
		if err := tx.Where("quiz_id = ?", quizID).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		return createQuestions(tx, quiz.ID, req.Questions)
	})
	if err != nil {
		return nil, err
	}
	return s.GetQuizByID(quiz.ID, userID)
}

func (s *QuizService) DeleteQuiz(quizID uint, userID uint) error {
	if _, err := s.GetQuizByID(quizID, userID); err != nil {
		return err
	}
	if err := s.checkNotInPlay(quizID); err != nil {
		return err
	}
	return s.db.Delete(&models.Quiz{}, quizID).Error
}

// checkNotInPlay rejects the operation while any session on this quiz is
// still waiting or active.
func (s *QuizService) checkNotInPlay(quizID uint) error {
	var count int64
	err := s.db.Model(&models.Session{}).
		Where("quiz_id = ? AND status <> ?", quizID, models.SessionFinished).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("quiz has an unfinished session")
	}
	return nil
}
