package main

import (
	"log"

	"zombiequiz/config"
	"zombiequiz/handlers"
	"zombiequiz/middleware"
	"zombiequiz/models"
	"zombiequiz/routes"
	"zombiequiz/services"
	"zombiequiz/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.Session{},
		&models.Participant{},
		&models.Answer{},
		&models.CompletionRecord{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	// Change feed and session store
	feed := store.NewRedisFeed(redisClient)
	sessionStore := store.NewGormStore(db, feed, store.RealClock())

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	quizService := services.NewQuizService(db)
	sessionService := services.NewSessionService(db, redisClient, sessionStore)
	recorder := services.NewCompletionRecorder(db)
	coordinators := services.NewCoordinatorSet()
	defer coordinators.StopAll()

	// Initialize WebSocket hub
	hub := services.NewHub(sessionService, coordinators)
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	quizHandler := handlers.NewQuizHandler(quizService)
	sessionHandler := handlers.NewSessionHandler(sessionService, hub, sessionStore, feed, recorder, coordinators, cfg.PublicURL)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(router, authHandler, quizHandler, sessionHandler, hub, sessionService, cfg.JWTSecret)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
