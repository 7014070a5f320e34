package routes

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"zombiequiz/handlers"
	"zombiequiz/middleware"
	"zombiequiz/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	quizHandler *handlers.QuizHandler,
	sessionHandler *handlers.SessionHandler,
	hub *services.Hub,
	sessionService *services.SessionService,
	jwtSecret string,
) {
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			quizzes := protected.Group("/quizzes")
			{
				quizzes.GET("", quizHandler.GetUserQuizzes)
				quizzes.POST("", quizHandler.CreateQuiz)
				quizzes.GET("/:id", quizHandler.GetQuizByID)
				quizzes.PUT("/:id", quizHandler.UpdateQuiz)
				quizzes.DELETE("/:id", quizHandler.DeleteQuiz)
			}

			sessions := protected.Group("/sessions")
			{
				sessions.POST("", sessionHandler.CreateSession)
				sessions.POST("/:pin/start", sessionHandler.StartSession)
			}
		}

		// Public session routes
		sessions := api.Group("/sessions")
		{
			sessions.POST("/:pin/join", sessionHandler.JoinSession)
			sessions.GET("/:pin", sessionHandler.GetSession)
			sessions.POST("/:pin/answer", sessionHandler.SubmitAnswer)
			sessions.GET("/:pin/leaderboard", sessionHandler.Leaderboard)
			sessions.GET("/:pin/zombie", sessionHandler.ZombieState)
			sessions.GET("/:pin/qr", sessionHandler.JoinQR)
		}
	}

	// WebSocket endpoint for real-time session updates
	router.GET("/ws/:pin/:participantID", func(c *gin.Context) {
		pin := strings.ToLower(c.Param("pin"))
		participantIDStr := c.Param("participantID")
		nickname := c.Query("nickname")

		participantID, err := strconv.ParseUint(participantIDStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid participant ID"})
			return
		}

		// Participant 0 is the host display; anything else must already
		// exist in the session before the socket is accepted.
		if participantID != 0 {
			if err := validateParticipantAccess(c, sessionService, pin, uint(participantID)); err != nil {
				log.Printf("Participant access validation failed for session %s, participant %d: %v", pin, participantID, err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Participant not found in session"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for session %s, participant %s: %v", pin, participantIDStr, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
			return
		}

		log.Printf("WebSocket connection established for session %s, participant %d (%s)", pin, participantID, nickname)
		hub.RegisterClient(conn, pin, uint(participantID), nickname)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func validateParticipantAccess(c *gin.Context, sessionService *services.SessionService, pin string, participantID uint) error {
	session, err := sessionService.GetSessionByPin(c.Request.Context(), pin)
	if err != nil {
		return err
	}
	for _, p := range session.Participants {
		if p.ID == participantID {
			return nil
		}
	}
	return fmt.Errorf("participant %d not found in session %s", participantID, pin)
}
