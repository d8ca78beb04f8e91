package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RefundOpen      = "open"
	RefundResolved  = "resolved"
	RefundCancelled = "cancelled"

	AcceptancePending  = "pending"
	AcceptanceAccepted = "accepted"
	AcceptanceRefused  = "refused"

	SenderUser   = "user"
	SenderStaff  = "staff"
	SenderSystem = "system"
	SenderAI     = "ai"
)

type RefundConversation struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Status           string    `json:"status"`
	AcceptanceStatus string    `json:"acceptance_status"`
	AIHandled        bool      `json:"ai_handled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type RefundMessage struct {
	ID              int64      `json:"id"`
	ConversationID  int64      `json:"conversation_id"`
	SenderKind      string     `json:"sender_kind"`
	SenderID        *int64     `json:"sender_id"`
	Content         string     `json:"content"`
	ClientMessageID *uuid.UUID `json:"client_message_id,omitempty"`
	ReplyToID       *int64     `json:"reply_to_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type RefundConversationSummary struct {
	RefundConversation
	UserEmail   string         `json:"user_email"`
	LastMessage *RefundMessage `json:"last_message,omitempty"`
}
