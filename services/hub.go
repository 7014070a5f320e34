package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub fans change-driven updates out to the rendering clients of each
// session: participant state, zombie/attack events, session lifecycle.
type Hub struct {
	clients        map[*Client]bool
	broadcast      chan []byte
	register       chan *Client
	unregister     chan *Client
	mutex          sync.RWMutex
	sessionService *SessionService
	coordinators   *CoordinatorSet
}

type Client struct {
	hub           *Hub
	id            string
	socket        *websocket.Conn
	send          chan []byte
	sessionPin    string
	participantID uint
	nickname      string
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(sessionService *SessionService, coordinators *CoordinatorSet) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		sessionService: sessionService,
		coordinators:   coordinators,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client registered: %s for session %s (participant %d: %s) - Total clients: %d", client.id, client.sessionPin, client.participantID, client.nickname, len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client unregistered: %s for session %s (participant %d: %s) - Total clients: %d", client.id, client.sessionPin, client.participantID, client.nickname, len(h.clients))
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastToSession sends one typed message to every client watching the
// given session pin. This is the Broadcaster the attack coordinator uses.
func (h *Hub) BroadcastToSession(pin string, messageType string, payload interface{}) {
	message := Message{
		Type:    messageType,
		Payload: payload,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		if strings.EqualFold(client.sessionPin, pin) {
			select {
			case client.send <- data:
			default:
				close(client.send)
				delete(h.clients, client)
			}
		}
	}
}

// SendSessionSync pushes the current session view, including the zombie
// snapshot when a coordinator is running, to a single client.
func (h *Hub) SendSessionSync(client *Client) {
	if h.sessionService == nil {
		return
	}
	view, err := h.sessionService.GetView(context.Background(), client.sessionPin)
	if err != nil {
		log.Printf("Error getting session view for client %s: %v", client.id, err)
		return
	}

	payload := map[string]interface{}{
		"session_status":  view.Status,
		"participants":    view.Participants,
		"total_questions": view.TotalQuestions,
	}
	if h.coordinators != nil {
		if coordinator, ok := h.coordinators.Get(view.SessionID); ok {
			payload["zombie"] = coordinator.State()
		}
	}

	message := Message{Type: "session_sync", Payload: payload}
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling session sync message: %v", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.mutex.Lock()
		close(client.send)
		delete(h.clients, client)
		h.mutex.Unlock()
	}
}

func (h *Hub) ConnectedParticipants(pin string) []uint {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var ids []uint
	for client := range h.clients {
		if strings.EqualFold(client.sessionPin, pin) {
			ids = append(ids, client.participantID)
		}
	}
	return ids
}

func (h *Hub) RegisterClient(conn *websocket.Conn, sessionPin string, participantID uint, nickname string) *Client {
	client := &Client{
		hub:           h,
		id:            uuid.NewString(),
		socket:        conn,
		send:          make(chan []byte, 256),
		sessionPin:    strings.ToLower(sessionPin),
		participantID: participantID,
		nickname:      nickname,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		response := Message{Type: "pong", Payload: "pong"}
		data, _ := json.Marshal(response)
		c.send <- data

	case "request_session_state":
		c.hub.SendSessionSync(c)

	case "participant_ready":
		log.Printf("Participant %d (%s) ready in session %s", c.participantID, c.nickname, c.sessionPin)
		c.hub.SendSessionSync(c)

	default:
		log.Printf("Unknown message type: %s from participant %d (%s) in session %s", msg.Type, c.participantID, c.nickname, c.sessionPin)
	}
}
