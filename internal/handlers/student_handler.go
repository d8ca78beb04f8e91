package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Jokecross/saasmoneyV2/internal/entitlement"
	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type studentApplicationService interface {
	Overview(ctx context.Context, userID int64) (*services.StudentOverview, error)
	ListStudents(ctx context.Context, actorID int64, role string) ([]models.StudentSummary, error)
	GetStudent(ctx context.Context, actorID int64, role string, studentID int64) (*models.StudentDetail, error)
	UnlockCoins(
		ctx context.Context,
		actorID int64,
		role string,
		studentID int64,
		amount int64,
		note *string,
	) (*services.UnlockResult, error)
}

type StudentHandler struct {
	service studentApplicationService
	logger  *slog.Logger
}

func NewStudentHandler(service studentApplicationService, logger *slog.Logger) *StudentHandler {
	return &StudentHandler{service: service, logger: logger}
}

type recordPaymentRequest struct {
	Amount int64   `json:"amount" validate:"gt=0"`
	Note   *string `json:"note" validate:"omitempty,max=500"`
}

func (h *StudentHandler) Me(c *fiber.Ctx) error {
	userID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleStudent {
		return forbidden(c)
	}

	overview, err := h.service.Overview(c.Context(), userID)
	if err != nil {
		return h.mapStudentError(c, err)
	}
	return c.JSON(overview)
}

func (h *StudentHandler) List(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	students, err := h.service.ListStudents(c.Context(), actorID, role)
	if err != nil {
		return h.mapStudentError(c, err)
	}
	return c.JSON(fiber.Map{"students": students})
}

func (h *StudentHandler) Get(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	studentID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid student id")
	}

	student, err := h.service.GetStudent(c.Context(), actorID, role, studentID)
	if err != nil {
		return h.mapStudentError(c, err)
	}
	return c.JSON(fiber.Map{"student": student})
}

// RecordPayment registers money received from a student and unlocks the
// matching share of coins.
func (h *StudentHandler) RecordPayment(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleCloser && role != models.RoleAdmin {
		return forbidden(c)
	}
	studentID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid student id")
	}

	var req recordPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	result, err := h.service.UnlockCoins(c.Context(), actorID, role, studentID, req.Amount, req.Note)
	if err != nil {
		return h.mapStudentError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *StudentHandler) mapStudentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrStudentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Student not found"})
	case errors.Is(err, entitlement.ErrNonPositiveAmount):
		return badRequest(c, "Payment amount must be greater than zero")
	case errors.Is(err, entitlement.ErrOverpayment):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Payment exceeds the remaining balance"})
	case errors.Is(err, packages.ErrUnknownPackage):
		h.logger.Error("student package misconfigured", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Student package is misconfigured"})
	default:
		h.logger.Error("student request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process student request"})
	}
}
