package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RefundMessageRepository struct {
	db DBTX
}

func NewRefundMessageRepository(db DBTX) *RefundMessageRepository {
	return &RefundMessageRepository{db: db}
}

const refundMessageColumns = `id, conversation_id, sender_kind, sender_id, content, client_message_id, reply_to_id, created_at`

func scanRefundMessage(row rowScanner) (*models.RefundMessage, error) {
	var msg models.RefundMessage
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderKind,
		&msg.SenderID,
		&msg.Content,
		&msg.ClientMessageID,
		&msg.ReplyToID,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// nullableRefundMessage scans the optional side of a LEFT JOIN.
type nullableRefundMessage struct {
	id              *int64
	conversationID  *int64
	senderKind      *string
	senderID        *int64
	content         *string
	clientMessageID *uuid.UUID
	replyToID       *int64
	createdAt       *time.Time
}

func (n *nullableRefundMessage) dest() []any {
	return []any{&n.id, &n.conversationID, &n.senderKind, &n.senderID, &n.content, &n.clientMessageID, &n.replyToID, &n.createdAt}
}

func (n *nullableRefundMessage) message() *models.RefundMessage {
	if n.id == nil {
		return nil
	}
	msg := &models.RefundMessage{
		ID:              *n.id,
		SenderID:        n.senderID,
		ClientMessageID: n.clientMessageID,
		ReplyToID:       n.replyToID,
	}
	if n.conversationID != nil {
		msg.ConversationID = *n.conversationID
	}
	if n.senderKind != nil {
		msg.SenderKind = *n.senderKind
	}
	if n.content != nil {
		msg.Content = *n.content
	}
	if n.createdAt != nil {
		msg.CreatedAt = *n.createdAt
	}
	return msg
}

type CreateRefundMessageInput struct {
	ConversationID  int64
	SenderKind      string
	SenderID        *int64
	Content         string
	ClientMessageID *uuid.UUID
	ReplyToID       *int64
}

func (r *RefundMessageRepository) Create(ctx context.Context, input CreateRefundMessageInput) (*models.RefundMessage, error) {
	query := `
		INSERT INTO refund_messages (conversation_id, sender_kind, sender_id, content, client_message_id, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + refundMessageColumns
	return scanRefundMessage(r.db.QueryRow(
		ctx,
		query,
		input.ConversationID,
		input.SenderKind,
		input.SenderID,
		input.Content,
		input.ClientMessageID,
		input.ReplyToID,
	))
}

// CreateIdempotent inserts a message keyed by its client id or reply target.
// When the key already exists the stored row is returned with created=false.
func (r *RefundMessageRepository) CreateIdempotent(
	ctx context.Context,
	input CreateRefundMessageInput,
) (*models.RefundMessage, bool, error) {
	msg, err := r.Create(ctx, input)
	if err == nil {
		return msg, true, nil
	}
	if !IsUniqueViolation(err, "") {
		return nil, false, err
	}

	var existing *models.RefundMessage
	switch {
	case input.ReplyToID != nil:
		existing, err = r.GetReplyTo(ctx, *input.ReplyToID)
	case input.ClientMessageID != nil:
		existing, err = r.GetByClientID(ctx, input.ConversationID, *input.ClientMessageID)
	default:
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RefundMessageRepository) GetByClientID(
	ctx context.Context,
	conversationID int64,
	clientID uuid.UUID,
) (*models.RefundMessage, error) {
	query := `
		SELECT ` + refundMessageColumns + `
		FROM refund_messages
		WHERE conversation_id = $1 AND client_message_id = $2
	`
	return scanRefundMessage(r.db.QueryRow(ctx, query, conversationID, clientID))
}

func (r *RefundMessageRepository) GetReplyTo(ctx context.Context, messageID int64) (*models.RefundMessage, error) {
	query := `SELECT ` + refundMessageColumns + ` FROM refund_messages WHERE reply_to_id = $1`
	return scanRefundMessage(r.db.QueryRow(ctx, query, messageID))
}

// LastUserMessage returns nil without error when the user never wrote.
func (r *RefundMessageRepository) LastUserMessage(ctx context.Context, conversationID int64) (*models.RefundMessage, error) {
	query := `
		SELECT ` + refundMessageColumns + `
		FROM refund_messages
		WHERE conversation_id = $1 AND sender_kind = 'user'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	msg, err := scanRefundMessage(r.db.QueryRow(ctx, query, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ListRecent returns up to limit messages written before the message
// beforeID (or the newest ones when beforeID is 0), oldest first.
func (r *RefundMessageRepository) ListRecent(
	ctx context.Context,
	conversationID int64,
	beforeID int64,
	limit int,
) ([]models.RefundMessage, error) {
	query := `
		SELECT ` + refundMessageColumns + `
		FROM (
			SELECT ` + refundMessageColumns + `
			FROM refund_messages
			WHERE conversation_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC, id ASC
	`
	return r.collect(ctx, query, conversationID, beforeID, limit)
}

func (r *RefundMessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.RefundMessage, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM refund_messages WHERE conversation_id = $1`, conversationID).
		Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + refundMessageColumns + `
		FROM refund_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`
	messages, err := r.collect(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (r *RefundMessageRepository) collect(ctx context.Context, query string, args ...any) ([]models.RefundMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.RefundMessage, 0)
	for rows.Next() {
		msg, err := scanRefundMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
