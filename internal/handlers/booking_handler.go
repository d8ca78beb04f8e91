package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type bookingApplicationService interface {
	BookOneToOne(ctx context.Context, userID int64, slotID int64) (*models.BookingDetail, error)
	BookHotSeat(ctx context.Context, userID int64, slotID int64) (*models.BookingDetail, error)
	UpdateStatus(ctx context.Context, actorID int64, role string, kind string, bookingID int64, status string) (*models.Booking, error)
	ListBookings(ctx context.Context, actorID int64, role string, kind string, status string) ([]models.BookingDetail, error)
}

type BookingHandler struct {
	service bookingApplicationService
	logger  *slog.Logger
}

func NewBookingHandler(service bookingApplicationService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{service: service, logger: logger}
}

type createBookingRequest struct {
	SlotID int64 `json:"slot_id" validate:"gt=0"`
}

type updateBookingStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=completed cancelled"`
}

func (h *BookingHandler) BookOneToOne(c *fiber.Ctx) error {
	return h.book(c, h.service.BookOneToOne)
}

func (h *BookingHandler) BookHotSeat(c *fiber.Ctx) error {
	return h.book(c, h.service.BookHotSeat)
}

func (h *BookingHandler) book(
	c *fiber.Ctx,
	bookFn func(ctx context.Context, userID int64, slotID int64) (*models.BookingDetail, error),
) error {
	userID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleStudent {
		return forbidden(c)
	}

	var req createBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	booking, err := bookFn(c.Context(), userID, req.SlotID)
	if err != nil {
		return h.mapBookingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"booking": booking})
}

func (h *BookingHandler) List(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	bookings, err := h.service.ListBookings(
		c.Context(),
		actorID,
		role,
		strings.TrimSpace(c.Query("kind")),
		strings.TrimSpace(c.Query("status")),
	)
	if err != nil {
		return h.mapBookingError(c, err)
	}
	return c.JSON(fiber.Map{"bookings": bookings})
}

func (h *BookingHandler) UpdateStatus(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleCoach && role != models.RoleAdmin {
		return forbidden(c)
	}
	kind := c.Params("kind")
	if !services.IsValidSlotKind(kind) {
		return badRequest(c, "Invalid booking kind")
	}
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid booking id")
	}

	var req updateBookingStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	booking, err := h.service.UpdateStatus(c.Context(), actorID, role, kind, bookingID, req.Status)
	if err != nil {
		return h.mapBookingError(c, err)
	}
	return c.JSON(fiber.Map{"booking": booking})
}

func (h *BookingHandler) mapBookingError(c *fiber.Ctx, err error) error {
	var denial *services.DenialError
	switch {
	case errors.As(err, &denial):
		return writeDenial(c, denial)
	case errors.Is(err, services.ErrCompensationFailed):
		h.logger.Error("booking left inconsistent", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Booking failed, please contact support"})
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrInvalidStatus):
		return badRequest(c, "Invalid status")
	case errors.Is(err, services.ErrStudentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Student not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrSlotUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Slot is no longer available"})
	case errors.Is(err, services.ErrInsufficientCoins):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Not enough available coins"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Booking changed concurrently, retry"})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Booking is not confirmed"})
	case errors.Is(err, packages.ErrUnknownPackage):
		h.logger.Error("student package misconfigured", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Student package is misconfigured"})
	default:
		h.logger.Error("booking request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process booking request"})
	}
}
