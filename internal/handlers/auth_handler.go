package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type accountApplicationService interface {
	Register(ctx context.Context, input services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Me(ctx context.Context, userID int64) (*services.AccountOverview, error)
}

type AuthHandler struct {
	service accountApplicationService
	logger  *slog.Logger
}

func NewAuthHandler(service accountApplicationService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

type registerRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	FullName       string `json:"full_name" validate:"max=120"`
	InvitationCode string `json:"invitation_code" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	result, err := h.service.Register(c.Context(), services.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		FullName:       req.FullName,
		InvitationCode: req.InvitationCode,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	result, err := h.service.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return h.mapAuthError(c, err)
	}
	return c.JSON(result)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	overview, err := h.service.Me(c.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return h.mapAuthError(c, err)
	}
	return c.JSON(overview)
}

func (h *AuthHandler) mapAuthError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	case errors.Is(err, services.ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
	case errors.Is(err, services.ErrInvitationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Invitation code not found"})
	case errors.Is(err, services.ErrInvitationUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Invitation code already used"})
	case errors.Is(err, packages.ErrUnknownPackage):
		h.logger.Error("invitation package misconfigured", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Invitation package is misconfigured"})
	default:
		h.logger.Error("auth request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process request"})
	}
}
