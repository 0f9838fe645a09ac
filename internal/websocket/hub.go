package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/model"
)

// SubscribeCheck authorizes a subscription and returns the job's current state.
type SubscribeCheck func(jobID string) (model.JobUpdate, bool)

// Client represents one WebSocket connection; it may follow many jobs
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	// closed by the hub when it drops the client
	done chan struct{}
}

type subscription struct {
	client *Client
	jobID  string
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	jobs map[string]map[*Client]bool

	// Jobs followed by each client
	clients map[*Client]map[string]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription

	// Broadcast messages to job subscribers
	broadcast chan *BroadcastMessage

	log zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		jobs:       make(map[string]map[*Client]bool),
		clients:    make(map[*Client]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop. All hub state is owned by this goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			h.log.Debug().Str("user_id", client.UserID).Msg("client registered")

		case client := <-h.unregister:
			h.drop(client)
			h.log.Debug().Str("user_id", client.UserID).Msg("client unregistered")

		case sub := <-h.subscribe:
			followed, ok := h.clients[sub.client]
			if !ok {
				continue
			}
			followed[sub.jobID] = true
			if h.jobs[sub.jobID] == nil {
				h.jobs[sub.jobID] = make(map[*Client]bool)
			}
			h.jobs[sub.jobID][sub.client] = true

		case msg := <-h.broadcast:
			for client := range h.jobs[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	followed, ok := h.clients[client]
	if !ok {
		return
	}
	for jobID := range followed {
		if subs, ok := h.jobs[jobID]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.jobs, jobID)
			}
		}
	}
	delete(h.clients, client)
	close(client.done)
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe makes client receive updates for jobID
func (h *Hub) Subscribe(client *Client, jobID string) {
	h.subscribe <- subscription{client: client, jobID: jobID}
}

// BroadcastJobUpdate sends a jobUpdate event to all subscribers of the job
func (h *Hub) BroadcastJobUpdate(update model.JobUpdate) {
	data, err := model.NewEnvelope(model.WSEventJobUpdate, update)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal job update")
		return
	}

	h.broadcast <- &BroadcastMessage{
		JobID:   update.JobID,
		Message: data,
	}
}

// HandleConnection serves one authenticated WebSocket connection until it closes.
func (h *Hub) HandleConnection(c *websocket.Conn, userID string, check SubscribeCheck) {
	client := &Client{
		UserID: userID,
		Conn:   c,
		Send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	h.Register(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		var env model.WSEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}

		switch env.Event {
		case model.WSEventSubscribeJob:
			var jobID string
			if err := json.Unmarshal(env.Data, &jobID); err != nil || jobID == "" {
				h.reply(client, model.WSEventError, model.WSError{Code: "VALIDATION_ERROR", Message: "subscribeJob expects a job id"})
				continue
			}
			if _, ok := check(jobID); !ok {
				h.reply(client, model.WSEventError, model.WSError{Code: "NOT_FOUND", Message: "job not found"})
				continue
			}
			// Registered before the state is read, so a transition racing this
			// subscribe is either in the reply or broadcast to the client.
			h.Subscribe(client, jobID)
			if current, ok := check(jobID); ok {
				h.reply(client, model.WSEventJobUpdate, current)
			}

		case model.WSEventPing:
			h.reply(client, model.WSEventPong, nil)
		}
	}

	h.Unregister(client)
	<-writerDone
}

func (h *Hub) reply(client *Client, event string, data interface{}) {
	msg, err := model.NewEnvelope(event, data)
	if err != nil {
		return
	}
	select {
	case client.Send <- msg:
	case <-client.done:
	default:
	}
}
