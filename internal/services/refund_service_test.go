package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type memRefundConversations struct {
	mu     sync.Mutex
	nextID int64
	convs  map[int64]*models.RefundConversation
}

func newMemRefundConversations() *memRefundConversations {
	return &memRefundConversations{convs: map[int64]*models.RefundConversation{}}
}

func (s *memRefundConversations) Create(_ context.Context, userID int64) (*models.RefundConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.UserID == userID && c.Status == models.RefundOpen {
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: repository.OpenRefundConstraint}
		}
	}
	s.nextID++
	conv := &models.RefundConversation{
		ID:               s.nextID,
		UserID:           userID,
		Status:           models.RefundOpen,
		AcceptanceStatus: models.AcceptancePending,
	}
	s.convs[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *memRefundConversations) snapshot() map[int64]models.RefundConversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]models.RefundConversation, len(s.convs))
	for id, c := range s.convs {
		out[id] = *c
	}
	return out
}

func (s *memRefundConversations) restore(convs map[int64]models.RefundConversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[int64]*models.RefundConversation, len(convs))
	for id := range convs {
		c := convs[id]
		s.convs[id] = &c
	}
}

func (s *memRefundConversations) GetByID(_ context.Context, id int64) (*models.RefundConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conv
	return &copied, nil
}

func (s *memRefundConversations) GetOpenByUser(_ context.Context, userID int64) (*models.RefundConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.UserID == userID && c.Status == models.RefundOpen {
			copied := *c
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memRefundConversations) TransitionAcceptance(_ context.Context, id int64, from string, to string, aiHandled bool) (*models.RefundConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.AcceptanceStatus != from {
		return nil, pgx.ErrNoRows
	}
	conv.AcceptanceStatus = to
	conv.AIHandled = aiHandled
	conv.Status = models.RefundOpen
	copied := *conv
	return &copied, nil
}

func (s *memRefundConversations) UpdateStatus(_ context.Context, id int64, status string) (*models.RefundConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	conv.Status = status
	copied := *conv
	return &copied, nil
}

func (s *memRefundConversations) Touch(context.Context, int64) error {
	return nil
}

func (s *memRefundConversations) List(_ context.Context, status string) ([]models.RefundConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RefundConversationSummary, 0)
	for _, c := range s.convs {
		if status == "" || c.Status == status {
			out = append(out, models.RefundConversationSummary{RefundConversation: *c})
		}
	}
	return out, nil
}

// memRefundMessages enforces the same unique keys as refund_messages.
type memRefundMessages struct {
	mu       sync.Mutex
	nextID   int64
	messages []models.RefundMessage
	failKind string
	failErr  error
}

func (s *memRefundMessages) failWrites(kind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKind = kind
	s.failErr = err
}

func (s *memRefundMessages) snapshot() []models.RefundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RefundMessage(nil), s.messages...)
}

func (s *memRefundMessages) restore(messages []models.RefundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = messages
}

func (s *memRefundMessages) Create(_ context.Context, input repository.CreateRefundMessageInput) (*models.RefundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil && input.SenderKind == s.failKind {
		return nil, s.failErr
	}
	for _, m := range s.messages {
		if input.ReplyToID != nil && m.ReplyToID != nil && *m.ReplyToID == *input.ReplyToID {
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: "refund_messages_reply_to_id_key"}
		}
		if input.ClientMessageID != nil && m.ClientMessageID != nil &&
			m.ConversationID == input.ConversationID && *m.ClientMessageID == *input.ClientMessageID {
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: "uq_refund_messages_client_id"}
		}
	}
	s.nextID++
	msg := models.RefundMessage{
		ID:              s.nextID,
		ConversationID:  input.ConversationID,
		SenderKind:      input.SenderKind,
		SenderID:        input.SenderID,
		Content:         input.Content,
		ClientMessageID: input.ClientMessageID,
		ReplyToID:       input.ReplyToID,
		CreatedAt:       time.Unix(s.nextID, 0),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memRefundMessages) CreateIdempotent(ctx context.Context, input repository.CreateRefundMessageInput) (*models.RefundMessage, bool, error) {
	msg, err := s.Create(ctx, input)
	if err == nil {
		return msg, true, nil
	}
	if !repository.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if input.ReplyToID != nil && m.ReplyToID != nil && *m.ReplyToID == *input.ReplyToID {
			copied := m
			return &copied, false, nil
		}
		if input.ClientMessageID != nil && m.ClientMessageID != nil && *m.ClientMessageID == *input.ClientMessageID {
			copied := m
			return &copied, false, nil
		}
	}
	return nil, false, err
}

func (s *memRefundMessages) GetReplyTo(_ context.Context, messageID int64) (*models.RefundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ReplyToID != nil && *m.ReplyToID == messageID {
			copied := m
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memRefundMessages) LastUserMessage(_ context.Context, conversationID int64) (*models.RefundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ConversationID == conversationID && m.SenderKind == models.SenderUser {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *memRefundMessages) ListRecent(_ context.Context, conversationID int64, beforeID int64, limit int) ([]models.RefundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RefundMessage, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID && (beforeID == 0 || m.ID < beforeID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memRefundMessages) ListByConversation(_ context.Context, conversationID int64, limit int, offset int) ([]models.RefundMessage, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RefundMessage, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	total := len(out)
	if offset >= total {
		return []models.RefundMessage{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s *memRefundMessages) bySender(kind string) []models.RefundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RefundMessage, 0)
	for _, m := range s.messages {
		if m.SenderKind == kind {
			out = append(out, m)
		}
	}
	return out
}

type stubCompleter struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	lastPrompt  string
	lastHistory []CompletionMessage
	lastMessage string
}

func (c *stubCompleter) Complete(_ context.Context, systemPrompt string, history []CompletionMessage, newMessage string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastPrompt = systemPrompt
	c.lastHistory = history
	c.lastMessage = newMessage
	return c.reply, c.err
}

type staticPrompt string

func (p staticPrompt) RefundPrompt(context.Context) string {
	return string(p)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []models.RefundMessage
}

func (n *recordingNotifier) PublishRefundMessage(_ models.RefundConversation, msg models.RefundMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

// memRefundTx rolls the in-memory stores back when fn fails.
func memRefundTx(convs *memRefundConversations, messages *memRefundMessages) refundTxRunner {
	return func(_ context.Context, fn func(refundConversationStore, refundMessageStore) error) error {
		convsBefore := convs.snapshot()
		messagesBefore := messages.snapshot()
		if err := fn(convs, messages); err != nil {
			convs.restore(convsBefore)
			messages.restore(messagesBefore)
			return err
		}
		return nil
	}
}

type refundFixture struct {
	svc       *RefundService
	convs     *memRefundConversations
	messages  *memRefundMessages
	completer *stubCompleter
	notifier  *recordingNotifier
}

func newRefundFixture(window int) *refundFixture {
	f := &refundFixture{
		convs:     newMemRefundConversations(),
		messages:  &memRefundMessages{},
		completer: &stubCompleter{reply: "I understand, here is what we can do."},
		notifier:  &recordingNotifier{},
	}
	f.svc = NewRefundService(nil, f.convs, f.messages, f.completer, staticPrompt("be kind"), window, discardLogger())
	f.svc.runTx = memRefundTx(f.convs, f.messages)
	f.svc.SetNotifier(f.notifier)
	return f
}

const (
	refundStudentID = int64(42)
	refundAdminID   = int64(1)
)

func TestRefuseRepliesOnceToLatestUserMessage(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	turn, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "I would like a refund")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	if turn.Reply != nil || f.completer.calls != 0 {
		t.Fatalf("pending conversation must not call the assistant")
	}

	refused, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID)
	if err != nil {
		t.Fatalf("Refuse: %v", err)
	}
	if !refused.Conversation.AIHandled || refused.Conversation.AcceptanceStatus != models.AcceptanceRefused {
		t.Fatalf("expected refused ai-handled conversation, got %+v", refused.Conversation)
	}
	if refused.Reply == nil || refused.Reply.ReplyToID == nil || *refused.Reply.ReplyToID != turn.Message.ID {
		t.Fatalf("expected reply to the user's message, got %+v", refused.Reply)
	}
	if f.completer.lastMessage != "I would like a refund" || f.completer.lastPrompt != "be kind" {
		t.Fatalf("unexpected completion input %q / %q", f.completer.lastMessage, f.completer.lastPrompt)
	}

	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected second refusal to fail, got %v", err)
	}
	if f.completer.calls != 1 {
		t.Fatalf("expected one completion call, got %d", f.completer.calls)
	}
	if n := len(f.messages.bySender(models.SenderAI)); n != 1 {
		t.Fatalf("expected one assistant message, got %d", n)
	}
}

func TestRefuseRollsBackWhenNoticeCannotBeStored(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	turn, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "I would like a refund")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	f.messages.failWrites(models.SenderSystem, errors.New("storage unreachable"))
	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID); err == nil {
		t.Fatalf("expected refusal to fail")
	}
	conv, _ := f.convs.GetByID(ctx, turn.Conversation.ID)
	if conv.AcceptanceStatus != models.AcceptancePending || conv.AIHandled {
		t.Fatalf("expected conversation to stay pending, got %+v", conv)
	}
	if f.completer.calls != 0 {
		t.Fatalf("expected no completion before the decision is stored")
	}

	f.messages.failWrites("", nil)
	refused, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID)
	if err != nil {
		t.Fatalf("retry Refuse: %v", err)
	}
	if refused.Message == nil || refused.Reply == nil {
		t.Fatalf("expected notice and reply on retry, got %+v", refused)
	}
	if n := len(f.messages.bySender(models.SenderSystem)); n != 1 {
		t.Fatalf("expected one system notice, got %d", n)
	}
}

func TestRefuseResumesMissingReply(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	turn, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "I would like a refund")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	f.messages.failWrites(models.SenderAI, errors.New("storage unreachable"))
	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID); err == nil {
		t.Fatalf("expected refusal reply to fail")
	}
	conv, _ := f.convs.GetByID(ctx, turn.Conversation.ID)
	if conv.AcceptanceStatus != models.AcceptanceRefused {
		t.Fatalf("expected decision to be stored, got %q", conv.AcceptanceStatus)
	}

	f.messages.failWrites("", nil)
	resumed, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID)
	if err != nil {
		t.Fatalf("retry Refuse: %v", err)
	}
	if resumed.Reply == nil || resumed.Reply.ReplyToID == nil || *resumed.Reply.ReplyToID != turn.Message.ID {
		t.Fatalf("expected reply to the user's message, got %+v", resumed.Reply)
	}
	if n := len(f.messages.bySender(models.SenderSystem)); n != 1 {
		t.Fatalf("expected one system notice, got %d", n)
	}

	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected answered refusal to be final, got %v", err)
	}
	if n := len(f.messages.bySender(models.SenderAI)); n != 1 {
		t.Fatalf("expected one assistant message, got %d", n)
	}
}

func TestAcceptRollsBackWhenNoticeCannotBeStored(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	conv, err := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if err != nil {
		t.Fatalf("GetOrOpenConversation: %v", err)
	}
	f.messages.failWrites(models.SenderSystem, errors.New("storage unreachable"))
	if _, err := f.svc.Accept(ctx, refundAdminID, models.RoleAdmin, conv.ID); err == nil {
		t.Fatalf("expected acceptance to fail")
	}
	f.messages.failWrites("", nil)
	if _, err := f.svc.Accept(ctx, refundAdminID, models.RoleAdmin, conv.ID); err != nil {
		t.Fatalf("retry Accept: %v", err)
	}
}

func TestPostUserMessageRetryDoesNotDuplicateReply(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	conv, err := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if err != nil {
		t.Fatalf("GetOrOpenConversation: %v", err)
	}
	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, conv.ID); err != nil {
		t.Fatalf("Refuse: %v", err)
	}
	callsAfterRefusal := f.completer.calls

	clientID := uuid.New()
	first, err := f.svc.PostUserMessage(ctx, refundStudentID, clientID, "Why not?")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	retry, err := f.svc.PostUserMessage(ctx, refundStudentID, clientID, "Why not?")
	if err != nil {
		t.Fatalf("PostUserMessage retry: %v", err)
	}

	if first.Message.ID != retry.Message.ID {
		t.Fatalf("expected retry to return message %d, got %d", first.Message.ID, retry.Message.ID)
	}
	if first.Reply == nil || retry.Reply == nil || first.Reply.ID != retry.Reply.ID {
		t.Fatalf("expected retry to return the same reply, got %+v and %+v", first.Reply, retry.Reply)
	}
	if got := f.completer.calls - callsAfterRefusal; got != 1 {
		t.Fatalf("expected one completion for the turn, got %d", got)
	}
	if n := len(f.messages.bySender(models.SenderUser)); n != 1 {
		t.Fatalf("expected one stored user message, got %d", n)
	}
}

func TestCompletionFailurePostsFallback(t *testing.T) {
	f := newRefundFixture(20)
	f.completer.err = errors.New("timeout")
	ctx := context.Background()

	turn, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "Refund please")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	refused, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, turn.Conversation.ID)
	if err != nil {
		t.Fatalf("Refuse: %v", err)
	}
	if refused.Reply == nil || refused.Reply.Content != RefundFallbackReply {
		t.Fatalf("expected fallback reply, got %+v", refused.Reply)
	}
	if refused.Reply.SenderKind != models.SenderAI {
		t.Fatalf("expected fallback stored as assistant turn, got %q", refused.Reply.SenderKind)
	}
}

func TestAcceptHandsConversationToStaff(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	conv, err := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if err != nil {
		t.Fatalf("GetOrOpenConversation: %v", err)
	}
	accepted, err := f.svc.Accept(ctx, refundAdminID, models.RoleAdmin, conv.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Conversation.AIHandled || accepted.Message.SenderKind != models.SenderSystem {
		t.Fatalf("expected human takeover with a system notice, got %+v", accepted)
	}

	turn, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "Thanks")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	if turn.Reply != nil || f.completer.calls != 0 {
		t.Fatalf("accepted conversation must not call the assistant")
	}
	if _, err := f.svc.PostStaffMessage(ctx, refundAdminID, models.RoleAdmin, conv.ID, "Refund is on its way"); err != nil {
		t.Fatalf("PostStaffMessage: %v", err)
	}
	if len(f.notifier.messages) != 3 {
		t.Fatalf("expected three pushed messages, got %d", len(f.notifier.messages))
	}
}

func TestPostStaffMessageRejectedWhileAssistantHandles(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	conv, _ := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, conv.ID); err != nil {
		t.Fatalf("Refuse: %v", err)
	}
	if _, err := f.svc.PostStaffMessage(ctx, refundAdminID, models.RoleAdmin, conv.ID, "hello"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := f.svc.PostStaffMessage(ctx, 7, models.RoleCoach, conv.ID, "hello"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAssistantHistoryIsBounded(t *testing.T) {
	f := newRefundFixture(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.PostUserMessage(ctx, refundStudentID, uuid.New(), "message"); err != nil {
			t.Fatalf("PostUserMessage %d: %v", i, err)
		}
	}
	conv, _ := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if _, err := f.svc.Refuse(ctx, refundAdminID, models.RoleAdmin, conv.ID); err != nil {
		t.Fatalf("Refuse: %v", err)
	}
	if len(f.completer.lastHistory) != 3 {
		t.Fatalf("expected 3 history messages, got %d", len(f.completer.lastHistory))
	}
}

func TestClosedConversationStartsANewOne(t *testing.T) {
	f := newRefundFixture(20)
	ctx := context.Background()

	first, _ := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if _, err := f.svc.UpdateStatus(ctx, models.RoleAdmin, first.ID, models.RefundResolved); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	second, err := f.svc.GetOrOpenConversation(ctx, refundStudentID)
	if err != nil {
		t.Fatalf("GetOrOpenConversation: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new conversation after resolution")
	}
	if _, _, err := f.svc.ListMessages(ctx, 99, models.RoleStudent, second.ID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected other students to be forbidden, got %v", err)
	}
}
