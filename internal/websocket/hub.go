package refundws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Hub fans refund messages out to the conversation owner and every
// connected admin.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	admins     map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	logger     *slog.Logger
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	role   string
	send   chan []byte
}

type messageSender interface {
	PostUserMessage(ctx context.Context, userID int64, clientID uuid.UUID, content string) (*services.RefundTurn, error)
	PostStaffMessage(ctx context.Context, adminID int64, role string, convID int64, content string) (*services.RefundTurn, error)
}

type Event struct {
	Type           string                `json:"type"`
	ConversationID string                `json:"conversation_id,omitempty"`
	OwnerID        string                `json:"-"`
	Message        *models.RefundMessage `json:"message,omitempty"`
	Error          string                `json:"error,omitempty"`
	Timestamp      string                `json:"timestamp"`
}

type incomingMessage struct {
	Type            string `json:"type"`
	ConversationID  string `json:"conversation_id"`
	ClientMessageID string `json:"client_message_id"`
	Content         string `json:"content"`
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		admins:     make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 64),
		logger:     logger,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, role string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		role:   role,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			if client.role == models.RoleAdmin {
				h.admins[client] = struct{}{}
			}
		case client := <-h.unregister:
			h.remove(client)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// PublishRefundMessage queues a stored message for delivery. It never
// blocks the request that produced the message.
func (h *Hub) PublishRefundMessage(conv models.RefundConversation, msg models.RefundMessage) {
	event := &Event{
		Type:           "refund_message",
		ConversationID: strconv.FormatInt(conv.ID, 10),
		OwnerID:        strconv.FormatInt(conv.UserID, 10),
		Message:        &msg,
		Timestamp:      formatTimestamp(msg.CreatedAt),
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("refund hub queue full, dropping event", "conversation_id", conv.ID, "message_id", msg.ID)
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.admins, client)
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) deliver(event *Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("refund hub encode event", "error", err)
		return
	}

	sent := make(map[*Client]struct{})
	for client := range h.clients[event.OwnerID] {
		h.trySend(client, encoded)
		sent[client] = struct{}{}
	}
	for client := range h.admins {
		if _, done := sent[client]; done {
			continue
		}
		h.trySend(client, encoded)
	}
}

// trySend drops the event for a client whose buffer is full. The channel is
// only closed by Unregister, which the client's own ReadPump issues.
func (h *Hub) trySend(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("refund hub client too slow, event dropped", "user_id", client.userID)
	}
}

// ReadPump turns inbound frames into refund messages: students write into
// their open conversation, admins into the one they name.
func (c *Client) ReadPump(service messageSender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	actorID, err := strconv.ParseInt(c.userID, 10, 64)
	if err != nil {
		writeError(c, "invalid user")
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming incomingMessage
		if err := json.Unmarshal(payload, &incoming); err != nil {
			writeError(c, "invalid message payload")
			continue
		}
		if incoming.Type != "message" {
			writeError(c, "unsupported message type")
			continue
		}

		switch c.role {
		case models.RoleStudent:
			clientID, err := uuid.Parse(incoming.ClientMessageID)
			if err != nil {
				writeError(c, "invalid client_message_id")
				continue
			}
			if _, err := service.PostUserMessage(context.Background(), actorID, clientID, incoming.Content); err != nil {
				c.hub.logger.Warn("refund ws user message failed", "user_id", actorID, "error", err)
				writeError(c, "failed to send message")
			}
		case models.RoleAdmin:
			convID, err := strconv.ParseInt(incoming.ConversationID, 10, 64)
			if err != nil || convID <= 0 {
				writeError(c, "invalid conversation id")
				continue
			}
			if _, err := service.PostStaffMessage(context.Background(), actorID, c.role, convID, incoming.Content); err != nil {
				c.hub.logger.Warn("refund ws staff message failed", "admin_id", actorID, "conversation_id", convID, "error", err)
				writeError(c, "failed to send message")
			}
		default:
			writeError(c, "forbidden")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func writeError(client *Client, message string) {
	payload, err := json.Marshal(Event{
		Type:      "error",
		Error:     message,
		Timestamp: formatTimestamp(time.Now()),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
