package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type settingsApplicationService interface {
	Get(ctx context.Context) (*models.AppSettings, error)
	Update(ctx context.Context, role string, input services.UpdateSettingsInput) (*models.AppSettings, error)
}

type staffApplicationService interface {
	CreateStaff(ctx context.Context, role string, input services.CreateStaffInput) (*models.Profile, error)
}

type AdminHandler struct {
	settings settingsApplicationService
	staff    staffApplicationService
	logger   *slog.Logger
}

func NewAdminHandler(settings settingsApplicationService, staff staffApplicationService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{settings: settings, staff: staff, logger: logger}
}

type updateSettingsRequest struct {
	OneToOneDurationMinutes *int    `json:"one_of_one_duration_minutes" validate:"omitempty,min=1,max=240"`
	RefundAISystemPrompt    *string `json:"refund_ai_system_prompt" validate:"omitempty,max=8000"`
}

type createStaffRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=120"`
	Role     string `json:"role" validate:"required,oneof=coach closer admin"`
}

func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleAdmin {
		return forbidden(c)
	}

	settings, err := h.settings.Get(c.Context())
	if err != nil {
		return h.mapAdminError(c, err)
	}
	return c.JSON(fiber.Map{"settings": settings})
}

func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	settings, err := h.settings.Update(c.Context(), role, services.UpdateSettingsInput{
		OneToOneDurationMinutes: req.OneToOneDurationMinutes,
		RefundAISystemPrompt:    req.RefundAISystemPrompt,
	})
	if err != nil {
		return h.mapAdminError(c, err)
	}
	return c.JSON(fiber.Map{"settings": settings})
}

func (h *AdminHandler) CreateStaff(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req createStaffRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	profile, err := h.staff.CreateStaff(c.Context(), role, services.CreateStaffInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		return h.mapAdminError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": profile})
}

func (h *AdminHandler) mapAdminError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
	default:
		h.logger.Error("admin request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process admin request"})
	}
}
