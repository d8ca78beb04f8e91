package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type invitationApplicationService interface {
	GenerateCode(ctx context.Context, issuerID int64, role string, tier string) (*services.InvitationView, error)
	Preview(ctx context.Context, code string) (*services.InvitationView, error)
	List(ctx context.Context, actorID int64, role string) ([]services.InvitationView, error)
}

type InvitationHandler struct {
	service invitationApplicationService
	logger  *slog.Logger
}

func NewInvitationHandler(service invitationApplicationService, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{service: service, logger: logger}
}

type generateInvitationRequest struct {
	PackageTier string `json:"package_tier" validate:"required"`
}

func (h *InvitationHandler) Generate(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleCloser && role != models.RoleAdmin {
		return forbidden(c)
	}

	var req generateInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	invitation, err := h.service.GenerateCode(c.Context(), actorID, role, req.PackageTier)
	if err != nil {
		return h.mapInvitationError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"invitation": invitation})
}

func (h *InvitationHandler) List(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	invitations, err := h.service.List(c.Context(), actorID, role)
	if err != nil {
		return h.mapInvitationError(c, err)
	}
	return c.JSON(fiber.Map{"invitations": invitations})
}

// Preview is public: the signup page shows the package before registering.
func (h *InvitationHandler) Preview(c *fiber.Ctx) error {
	invitation, err := h.service.Preview(c.Context(), c.Params("code"))
	if err != nil {
		return h.mapInvitationError(c, err)
	}
	return c.JSON(fiber.Map{
		"code":    invitation.Code,
		"used":    invitation.Used,
		"package": invitation.Package,
	})
}

func (h *InvitationHandler) mapInvitationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrInvitationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Invitation code not found"})
	case errors.Is(err, services.ErrConflict):
		h.logger.Error("invitation code space exhausted", "error", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Could not allocate a unique code, retry"})
	case errors.Is(err, packages.ErrUnknownPackage):
		h.logger.Error("invitation package misconfigured", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Invitation package is misconfigured"})
	default:
		h.logger.Error("invitation request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process invitation request"})
	}
}
