package repository

import (
	"context"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

const OpenRefundConstraint = "uq_refund_conversations_open_user"

type RefundConversationRepository struct {
	db DBTX
}

func NewRefundConversationRepository(db DBTX) *RefundConversationRepository {
	return &RefundConversationRepository{db: db}
}

const refundConversationColumns = `c.id, c.user_id, c.status, c.acceptance_status, c.ai_handled, c.created_at, c.updated_at`

func refundConversationDest(conv *models.RefundConversation) []any {
	return []any{
		&conv.ID,
		&conv.UserID,
		&conv.Status,
		&conv.AcceptanceStatus,
		&conv.AIHandled,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	}
}

func scanRefundConversation(row rowScanner) (*models.RefundConversation, error) {
	var conv models.RefundConversation
	if err := row.Scan(refundConversationDest(&conv)...); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *RefundConversationRepository) Create(ctx context.Context, userID int64) (*models.RefundConversation, error) {
	query := `
		INSERT INTO refund_conversations AS c (user_id, status, acceptance_status, ai_handled)
		VALUES ($1, 'open', 'pending', FALSE)
		RETURNING ` + refundConversationColumns
	return scanRefundConversation(r.db.QueryRow(ctx, query, userID))
}

func (r *RefundConversationRepository) GetByID(ctx context.Context, id int64) (*models.RefundConversation, error) {
	query := `SELECT ` + refundConversationColumns + ` FROM refund_conversations c WHERE c.id = $1`
	return scanRefundConversation(r.db.QueryRow(ctx, query, id))
}

func (r *RefundConversationRepository) GetOpenByUser(ctx context.Context, userID int64) (*models.RefundConversation, error) {
	query := `
		SELECT ` + refundConversationColumns + `
		FROM refund_conversations c
		WHERE c.user_id = $1 AND c.status = 'open'
	`
	return scanRefundConversation(r.db.QueryRow(ctx, query, userID))
}

// TransitionAcceptance moves the ownership axis out of fromStatus and
// reopens the conversation. pgx.ErrNoRows means it was already decided.
func (r *RefundConversationRepository) TransitionAcceptance(
	ctx context.Context,
	id int64,
	fromStatus string,
	toStatus string,
	aiHandled bool,
) (*models.RefundConversation, error) {
	query := `
		UPDATE refund_conversations AS c
		SET acceptance_status = $3, ai_handled = $4, status = 'open', updated_at = NOW()
		WHERE c.id = $1 AND c.acceptance_status = $2
		RETURNING ` + refundConversationColumns
	return scanRefundConversation(r.db.QueryRow(ctx, query, id, fromStatus, toStatus, aiHandled))
}

func (r *RefundConversationRepository) UpdateStatus(ctx context.Context, id int64, status string) (*models.RefundConversation, error) {
	query := `
		UPDATE refund_conversations AS c
		SET status = $2, updated_at = NOW()
		WHERE c.id = $1
		RETURNING ` + refundConversationColumns
	return scanRefundConversation(r.db.QueryRow(ctx, query, id, status))
}

func (r *RefundConversationRepository) Touch(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE refund_conversations SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

// List returns conversations with their latest message, most recently
// active first. An empty status lists all of them.
func (r *RefundConversationRepository) List(ctx context.Context, status string) ([]models.RefundConversationSummary, error) {
	query := `
		SELECT ` + refundConversationColumns + `, p.email,
		       m.id, m.conversation_id, m.sender_kind, m.sender_id, m.content, m.client_message_id, m.reply_to_id, m.created_at
		FROM refund_conversations c
		JOIN profiles p ON p.id = c.user_id
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender_kind, sender_id, content, client_message_id, reply_to_id, created_at
			FROM refund_messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) m ON TRUE
		WHERE ($1::text = '' OR c.status = $1::text)
		ORDER BY c.updated_at DESC, c.id DESC
	`
	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.RefundConversationSummary, 0)
	for rows.Next() {
		var summary models.RefundConversationSummary
		var last nullableRefundMessage
		dest := append(refundConversationDest(&summary.RefundConversation), &summary.UserEmail)
		dest = append(dest, last.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		summary.LastMessage = last.message()
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
