package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type refundApplicationService interface {
	GetOrOpenConversation(ctx context.Context, userID int64) (*models.RefundConversation, error)
	PostUserMessage(ctx context.Context, userID int64, clientID uuid.UUID, content string) (*services.RefundTurn, error)
	Accept(ctx context.Context, adminID int64, role string, convID int64) (*services.RefundTurn, error)
	Refuse(ctx context.Context, adminID int64, role string, convID int64) (*services.RefundTurn, error)
	PostStaffMessage(ctx context.Context, adminID int64, role string, convID int64, content string) (*services.RefundTurn, error)
	UpdateStatus(ctx context.Context, role string, convID int64, status string) (*models.RefundConversation, error)
	ListConversations(ctx context.Context, role string, status string) ([]models.RefundConversationSummary, error)
	ListMessages(ctx context.Context, actorID int64, role string, convID int64, limit int, offset int) ([]models.RefundMessage, int, error)
}

type RefundHandler struct {
	service refundApplicationService
	logger  *slog.Logger
}

func NewRefundHandler(service refundApplicationService, logger *slog.Logger) *RefundHandler {
	return &RefundHandler{service: service, logger: logger}
}

type postRefundMessageRequest struct {
	ClientMessageID string `json:"client_message_id" validate:"required,uuid"`
	Content         string `json:"content" validate:"required,max=4000"`
}

type postStaffMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type updateRefundStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open resolved cancelled"`
}

func (h *RefundHandler) MyConversation(c *fiber.Ctx) error {
	userID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleStudent {
		return forbidden(c)
	}

	conv, err := h.service.GetOrOpenConversation(c.Context(), userID)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conv})
}

func (h *RefundHandler) PostMyMessage(c *fiber.Ctx) error {
	userID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleStudent {
		return forbidden(c)
	}

	var req postRefundMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}
	clientID, err := uuid.Parse(req.ClientMessageID)
	if err != nil {
		return badRequest(c, "client_message_id is invalid")
	}

	turn, err := h.service.PostUserMessage(c.Context(), userID, clientID, req.Content)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(turn)
}

func (h *RefundHandler) MyMessages(c *fiber.Ctx) error {
	userID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleStudent {
		return forbidden(c)
	}

	conv, err := h.service.GetOrOpenConversation(c.Context(), userID)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return h.listMessages(c, userID, role, conv.ID)
}

func (h *RefundHandler) ListConversations(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	conversations, err := h.service.ListConversations(c.Context(), role, strings.TrimSpace(c.Query("status")))
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *RefundHandler) ConversationMessages(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}
	return h.listMessages(c, actorID, role, convID)
}

func (h *RefundHandler) listMessages(c *fiber.Ctx, actorID int64, role string, convID int64) error {
	page, limit, offset := pageParams(c)

	messages, total, err := h.service.ListMessages(c.Context(), actorID, role, convID, limit, offset)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *RefundHandler) Accept(c *fiber.Ctx) error {
	return h.decide(c, h.service.Accept)
}

func (h *RefundHandler) Refuse(c *fiber.Ctx) error {
	return h.decide(c, h.service.Refuse)
}

func (h *RefundHandler) decide(
	c *fiber.Ctx,
	decideFn func(ctx context.Context, adminID int64, role string, convID int64) (*services.RefundTurn, error),
) error {
	adminID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleAdmin {
		return forbidden(c)
	}
	convID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	turn, err := decideFn(c.Context(), adminID, role, convID)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.JSON(turn)
}

func (h *RefundHandler) PostStaffMessage(c *fiber.Ctx) error {
	adminID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleAdmin {
		return forbidden(c)
	}
	convID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	var req postStaffMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	turn, err := h.service.PostStaffMessage(c.Context(), adminID, role, convID, req.Content)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(turn)
}

func (h *RefundHandler) UpdateStatus(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	convID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	var req updateRefundStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	conv, err := h.service.UpdateStatus(c.Context(), role, convID, req.Status)
	if err != nil {
		return h.mapRefundError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conv})
}

func (h *RefundHandler) mapRefundError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrInvalidStatus):
		return badRequest(c, "Invalid status")
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Conversation is not in a state that allows this"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "User already has an open conversation"})
	default:
		h.logger.Error("refund request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process refund request"})
	}
}
