package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	DefaultRefundHistoryWindow = 20
	maxRefundMessageLength     = 4000

	RefundFallbackReply = "We could not generate an answer right now. " +
		"Your message has been saved and the team will get back to you shortly."
	refundAcceptedNotice = "A member of the team has taken over your request and will answer you here."
	refundRefusedNotice  = "Your refund request has been declined. Our assistant stays available to answer your questions."
)

type refundConversationStore interface {
	Create(ctx context.Context, userID int64) (*models.RefundConversation, error)
	GetByID(ctx context.Context, id int64) (*models.RefundConversation, error)
	GetOpenByUser(ctx context.Context, userID int64) (*models.RefundConversation, error)
	TransitionAcceptance(ctx context.Context, id int64, fromStatus string, toStatus string, aiHandled bool) (*models.RefundConversation, error)
	UpdateStatus(ctx context.Context, id int64, status string) (*models.RefundConversation, error)
	Touch(ctx context.Context, id int64) error
	List(ctx context.Context, status string) ([]models.RefundConversationSummary, error)
}

type refundMessageStore interface {
	Create(ctx context.Context, input repository.CreateRefundMessageInput) (*models.RefundMessage, error)
	CreateIdempotent(ctx context.Context, input repository.CreateRefundMessageInput) (*models.RefundMessage, bool, error)
	GetReplyTo(ctx context.Context, messageID int64) (*models.RefundMessage, error)
	LastUserMessage(ctx context.Context, conversationID int64) (*models.RefundMessage, error)
	ListRecent(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.RefundMessage, error)
	ListByConversation(ctx context.Context, conversationID int64, limit int, offset int) ([]models.RefundMessage, int, error)
}

type refundPromptSource interface {
	RefundPrompt(ctx context.Context) string
}

// RefundNotifier pushes stored messages to connected clients.
type RefundNotifier interface {
	PublishRefundMessage(conv models.RefundConversation, msg models.RefundMessage)
}

// RefundTurn is the outcome of one action on a conversation. Reply is set
// when the assistant answered.
type RefundTurn struct {
	Conversation *models.RefundConversation `json:"conversation"`
	Message      *models.RefundMessage      `json:"message,omitempty"`
	Reply        *models.RefundMessage      `json:"reply,omitempty"`
}

type refundTxRunner func(ctx context.Context, fn func(conversations refundConversationStore, messages refundMessageStore) error) error

type RefundService struct {
	conversations refundConversationStore
	messages      refundMessageStore
	runTx         refundTxRunner
	completer     Completer
	prompts       refundPromptSource
	notifier      RefundNotifier
	historyWindow int
	logger        *slog.Logger
}

func NewRefundService(
	db txBeginner,
	conversations refundConversationStore,
	messages refundMessageStore,
	completer Completer,
	prompts refundPromptSource,
	historyWindow int,
	logger *slog.Logger,
) *RefundService {
	if historyWindow <= 0 {
		historyWindow = DefaultRefundHistoryWindow
	}
	s := &RefundService{
		conversations: conversations,
		messages:      messages,
		completer:     completer,
		prompts:       prompts,
		historyWindow: historyWindow,
		logger:        logger,
	}
	s.runTx = func(_ context.Context, fn func(refundConversationStore, refundMessageStore) error) error {
		return fn(s.conversations, s.messages)
	}
	if db != nil {
		s.runTx = func(ctx context.Context, fn func(refundConversationStore, refundMessageStore) error) error {
			return inTx(ctx, db, func(tx pgx.Tx) error {
				return fn(repository.NewRefundConversationRepository(tx), repository.NewRefundMessageRepository(tx))
			})
		}
	}
	return s
}

// SetNotifier wires the live channel once the hub exists.
func (s *RefundService) SetNotifier(notifier RefundNotifier) {
	s.notifier = notifier
}

func (s *RefundService) publish(conv *models.RefundConversation, msg *models.RefundMessage) {
	if s.notifier == nil || conv == nil || msg == nil {
		return
	}
	s.notifier.PublishRefundMessage(*conv, *msg)
}

// GetOrOpenConversation returns the user's open conversation, creating one
// when the previous ones are all closed.
func (s *RefundService) GetOrOpenConversation(ctx context.Context, userID int64) (*models.RefundConversation, error) {
	conv, err := s.conversations.GetOpenByUser(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	conv, err = s.conversations.Create(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if repository.IsUniqueViolation(err, repository.OpenRefundConstraint) {
		return s.conversations.GetOpenByUser(ctx, userID)
	}
	return nil, err
}

// PostUserMessage stores a student message. Retrying with the same client id
// returns the stored turn, including the assistant reply, without writing
// anything new.
func (s *RefundService) PostUserMessage(
	ctx context.Context,
	userID int64,
	clientID uuid.UUID,
	content string,
) (*RefundTurn, error) {
	content, err := normalizeRefundContent(content)
	if err != nil {
		return nil, err
	}
	if clientID == uuid.Nil {
		return nil, fmt.Errorf("%w: client_message_id is required", ErrInvalidInput)
	}

	conv, err := s.GetOrOpenConversation(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg, created, err := s.messages.CreateIdempotent(ctx, repository.CreateRefundMessageInput{
		ConversationID:  conv.ID,
		SenderKind:      models.SenderUser,
		SenderID:        &userID,
		Content:         content,
		ClientMessageID: &clientID,
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.conversations.Touch(ctx, conv.ID); err != nil {
			s.logger.Warn("refund conversation touch failed", "conversation_id", conv.ID, "error", err)
		}
		s.publish(conv, msg)
	}

	turn := &RefundTurn{Conversation: conv, Message: msg}
	if !conv.AIHandled {
		return turn, nil
	}
	reply, err := s.reply(ctx, conv, msg)
	if err != nil {
		return nil, err
	}
	turn.Reply = reply
	return turn, nil
}

// Accept hands the conversation to a human.
func (s *RefundService) Accept(ctx context.Context, adminID int64, role string, convID int64) (*RefundTurn, error) {
	conv, notice, err := s.decide(ctx, role, convID, models.AcceptanceAccepted, false, refundAcceptedNotice)
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund accepted", "conversation_id", convID, "admin_id", adminID)
	return &RefundTurn{Conversation: conv, Message: notice}, nil
}

// Refuse hands the conversation to the assistant, which answers the
// student's latest message straight away. Calling it again on a refused
// conversation whose answer was never written produces that answer.
func (s *RefundService) Refuse(ctx context.Context, adminID int64, role string, convID int64) (*RefundTurn, error) {
	conv, notice, err := s.decide(ctx, role, convID, models.AcceptanceRefused, true, refundRefusedNotice)
	if errors.Is(err, ErrInvalidStateTransition) {
		return s.resumeRefusal(ctx, adminID, convID)
	}
	if err != nil {
		return nil, err
	}
	reply, err := s.answerLatest(ctx, conv)
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund refused", "conversation_id", convID, "admin_id", adminID)
	return &RefundTurn{Conversation: conv, Message: notice, Reply: reply}, nil
}

func (s *RefundService) resumeRefusal(ctx context.Context, adminID int64, convID int64) (*RefundTurn, error) {
	conv, err := s.conversations.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv.AcceptanceStatus != models.AcceptanceRefused || !conv.AIHandled || conv.Status != models.RefundOpen {
		return nil, ErrInvalidStateTransition
	}
	pending, err := s.replyPending(ctx, conv)
	if err != nil {
		return nil, err
	}
	if !pending {
		return nil, ErrInvalidStateTransition
	}
	reply, err := s.answerLatest(ctx, conv)
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund refusal answer resumed", "conversation_id", convID, "admin_id", adminID)
	return &RefundTurn{Conversation: conv, Reply: reply}, nil
}

// replyPending reports whether the assistant still owes an answer to the
// latest student message, or an opener when the student never wrote.
func (s *RefundService) replyPending(ctx context.Context, conv *models.RefundConversation) (bool, error) {
	last, err := s.messages.LastUserMessage(ctx, conv.ID)
	if err != nil {
		return false, err
	}
	if last != nil {
		_, err := s.messages.GetReplyTo(ctx, last.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	recent, err := s.messages.ListRecent(ctx, conv.ID, 0, 1)
	if err != nil {
		return false, err
	}
	return len(recent) == 0 || recent[0].SenderKind != models.SenderAI, nil
}

func (s *RefundService) answerLatest(ctx context.Context, conv *models.RefundConversation) (*models.RefundMessage, error) {
	last, err := s.messages.LastUserMessage(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, conv, last)
}

// decide moves a pending conversation to an acceptance outcome and writes
// the notice in the same transaction.
func (s *RefundService) decide(
	ctx context.Context,
	role string,
	convID int64,
	to string,
	aiHandled bool,
	noticeText string,
) (*models.RefundConversation, *models.RefundMessage, error) {
	if role != models.RoleAdmin {
		return nil, nil, ErrForbidden
	}

	var conv *models.RefundConversation
	var notice *models.RefundMessage
	err := s.runTx(ctx, func(conversations refundConversationStore, messages refundMessageStore) error {
		var err error
		conv, err = transitionAcceptance(ctx, conversations, convID, to, aiHandled)
		if err != nil {
			return err
		}
		notice, err = messages.Create(ctx, repository.CreateRefundMessageInput{
			ConversationID: conv.ID,
			SenderKind:     models.SenderSystem,
			Content:        noticeText,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(conv, notice)
	return conv, notice, nil
}

func transitionAcceptance(
	ctx context.Context,
	conversations refundConversationStore,
	convID int64,
	to string,
	aiHandled bool,
) (*models.RefundConversation, error) {
	conv, err := conversations.TransitionAcceptance(ctx, convID, models.AcceptancePending, to, aiHandled)
	if err == nil {
		return conv, nil
	}
	if repository.IsUniqueViolation(err, repository.OpenRefundConstraint) {
		return nil, ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := conversations.GetByID(ctx, convID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return nil, ErrInvalidStateTransition
}

// reply answers trigger at most once. Without a trigger the assistant opens
// the conversation from its history alone.
func (s *RefundService) reply(
	ctx context.Context,
	conv *models.RefundConversation,
	trigger *models.RefundMessage,
) (*models.RefundMessage, error) {
	ctx = context.WithoutCancel(ctx)

	var replyTo *int64
	var beforeID int64
	newMessage := ""
	if trigger != nil {
		existing, err := s.messages.GetReplyTo(ctx, trigger.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		replyTo = &trigger.ID
		beforeID = trigger.ID
		newMessage = trigger.Content
	}

	history, err := s.messages.ListRecent(ctx, conv.ID, beforeID, s.historyWindow)
	if err != nil {
		return nil, err
	}

	prompt := DefaultRefundSystemPrompt
	if s.prompts != nil {
		prompt = s.prompts.RefundPrompt(ctx)
	}

	text := RefundFallbackReply
	if s.completer != nil {
		answer, err := s.completer.Complete(ctx, prompt, completionHistory(history), newMessage)
		if err != nil {
			s.logger.Error("refund completion failed", "conversation_id", conv.ID, "error", err)
		} else {
			text = answer
		}
	}

	msg, created, err := s.messages.CreateIdempotent(ctx, repository.CreateRefundMessageInput{
		ConversationID: conv.ID,
		SenderKind:     models.SenderAI,
		Content:        text,
		ReplyToID:      replyTo,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(conv, msg)
	}
	return msg, nil
}

func completionHistory(messages []models.RefundMessage) []CompletionMessage {
	history := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := CompletionRoleAssistant
		switch m.SenderKind {
		case models.SenderUser:
			role = CompletionRoleUser
		case models.SenderSystem:
			role = CompletionRoleSystem
		}
		history = append(history, CompletionMessage{Role: role, Content: m.Content})
	}
	return history
}

// PostStaffMessage lets an admin answer while the conversation is in human
// hands.
func (s *RefundService) PostStaffMessage(
	ctx context.Context,
	adminID int64,
	role string,
	convID int64,
	content string,
) (*RefundTurn, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	content, err := normalizeRefundContent(content)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if conv.AIHandled || conv.Status != models.RefundOpen {
		return nil, ErrInvalidStateTransition
	}

	msg, err := s.messages.Create(ctx, repository.CreateRefundMessageInput{
		ConversationID: conv.ID,
		SenderKind:     models.SenderStaff,
		SenderID:       &adminID,
		Content:        content,
	})
	if err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(ctx, conv.ID); err != nil {
		s.logger.Warn("refund conversation touch failed", "conversation_id", conv.ID, "error", err)
	}
	s.publish(conv, msg)
	return &RefundTurn{Conversation: conv, Message: msg}, nil
}

func IsValidRefundStatus(status string) bool {
	switch status {
	case models.RefundOpen, models.RefundResolved, models.RefundCancelled:
		return true
	default:
		return false
	}
}

func (s *RefundService) UpdateStatus(ctx context.Context, role string, convID int64, status string) (*models.RefundConversation, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !IsValidRefundStatus(status) {
		return nil, ErrInvalidStatus
	}
	conv, err := s.conversations.UpdateStatus(ctx, convID, status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if repository.IsUniqueViolation(err, repository.OpenRefundConstraint) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return conv, nil
}

func (s *RefundService) ListConversations(ctx context.Context, role string, status string) ([]models.RefundConversationSummary, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if status != "" && !IsValidRefundStatus(status) {
		return nil, ErrInvalidStatus
	}
	return s.conversations.List(ctx, status)
}

// ListMessages pages through a conversation oldest first. Students can only
// read their own conversations.
func (s *RefundService) ListMessages(
	ctx context.Context,
	actorID int64,
	role string,
	convID int64,
	limit int,
	offset int,
) ([]models.RefundMessage, int, error) {
	conv, err := s.conversations.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	if role != models.RoleAdmin && conv.UserID != actorID {
		return nil, 0, ErrForbidden
	}
	return s.messages.ListByConversation(ctx, convID, limit, offset)
}

func normalizeRefundContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxRefundMessageLength {
		return "", fmt.Errorf("%w: content is too long", ErrInvalidInput)
	}
	return content, nil
}
