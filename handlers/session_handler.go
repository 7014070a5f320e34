package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"zombiequiz/services"
	"zombiequiz/store"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

type SessionHandler struct {
	sessionService *services.SessionService
	hub            *services.Hub
	store          store.SessionStore
	feed           store.ChangeFeed
	recorder       services.Recorder
	coordinators   *services.CoordinatorSet
	publicURL      string
}

func NewSessionHandler(
	sessionService *services.SessionService,
	hub *services.Hub,
	st store.SessionStore,
	feed store.ChangeFeed,
	recorder services.Recorder,
	coordinators *services.CoordinatorSet,
	publicURL string,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		hub:            hub,
		store:          st,
		feed:           feed,
		recorder:       recorder,
		coordinators:   coordinators,
		publicURL:      publicURL,
	}
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.CreateSession(userID.(uint), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// StartSession opens the room for play and boots the attack coordinator
// that drives the zombie for this session.
func (h *SessionHandler) StartSession(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	pin := strings.ToLower(c.Param("pin"))
	session, err := h.sessionService.StartSession(c.Request.Context(), pin, userID.(uint))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if _, running := h.coordinators.Get(session.ID); !running {
		coordinator := services.NewAttackCoordinator(h.store, h.feed, store.RealClock(), h.hub, h.recorder, session)
		// The coordinator outlives this request.
		if err := coordinator.Start(context.Background()); err != nil {
			log.Printf("Failed to start attack coordinator for session %s: %v", pin, err)
		} else {
			h.coordinators.Add(coordinator)
		}
	}

	h.hub.BroadcastToSession(pin, "session_started", gin.H{"session_id": session.ID})
	c.JSON(http.StatusOK, gin.H{"message": "Session started", "session": session})
}

func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req services.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.sessionService.Join(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		case errors.Is(err, store.ErrSessionLocked):
			c.JSON(http.StatusConflict, gin.H{"error": "session_locked"})
		case errors.Is(err, store.ErrNicknameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "nickname_taken"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	h.hub.BroadcastToSession(result.GamePin, "participant_update", gin.H{
		"action":         "joined",
		"participant_id": result.ParticipantID,
	})
	c.JSON(http.StatusOK, result)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	pin := c.Param("pin")
	if pin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session PIN required"})
		return
	}

	session, err := h.sessionService.GetSessionByPin(c.Request.Context(), strings.ToLower(pin))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	pin := strings.ToLower(c.Param("pin"))
	if pin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session PIN required"})
		return
	}

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participant, err := h.sessionService.SubmitAnswer(c.Request.Context(), pin, &req)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "stale_version"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, participant)
}

func (h *SessionHandler) Leaderboard(c *gin.Context) {
	pin := strings.ToLower(c.Param("pin"))
	session, err := h.sessionService.GetSessionByPin(c.Request.Context(), pin)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	board, err := h.sessionService.Leaderboard(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

// ZombieState exposes the coordinator snapshot for the host display.
func (h *SessionHandler) ZombieState(c *gin.Context) {
	pin := strings.ToLower(c.Param("pin"))
	session, err := h.sessionService.GetSessionByPin(c.Request.Context(), pin)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	coordinator, ok := h.coordinators.Get(session.ID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"zombie": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"zombie": coordinator.State()})
}

// JoinQR renders the join link for a session as a PNG QR code so the
// host display can show it in the lobby.
func (h *SessionHandler) JoinQR(c *gin.Context) {
	pin := strings.ToLower(c.Param("pin"))
	if _, err := h.sessionService.GetSessionByPin(c.Request.Context(), pin); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	joinURL := fmt.Sprintf("%s/join/%s", strings.TrimRight(h.publicURL, "/"), pin)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
