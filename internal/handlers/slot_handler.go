package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	"github.com/gofiber/fiber/v2"
)

type slotApplicationService interface {
	CreateSlot(ctx context.Context, actorID int64, role string, input services.CreateSlotInput) (*models.Slot, error)
	ListAvailable(ctx context.Context, kind string, hotSeatTypeID *int64) ([]models.Slot, error)
	ListMine(ctx context.Context, actorID int64, role string) ([]models.Slot, error)
	DeleteSlot(ctx context.Context, actorID int64, role string, kind string, slotID int64) error
	CreateHotSeatType(ctx context.Context, role string, input services.CreateHotSeatTypeInput) (*models.HotSeatType, error)
	ListHotSeatTypes(ctx context.Context, role string) ([]models.HotSeatType, error)
	DeactivateHotSeatType(ctx context.Context, role string, id int64) (*models.HotSeatType, error)
}

type SlotHandler struct {
	service slotApplicationService
	logger  *slog.Logger
}

func NewSlotHandler(service slotApplicationService, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{service: service, logger: logger}
}

type createSlotRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=5,max=240"`
	HotSeatTypeID   *int64    `json:"hot_seat_type_id" validate:"omitempty,gt=0"`
	MeetingLink     *string   `json:"meeting_link" validate:"omitempty,max=500"`
}

type createHotSeatTypeRequest struct {
	Name            string  `json:"name" validate:"required,max=120"`
	Description     *string `json:"description" validate:"omitempty,max=1000"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=5,max=480"`
}

func (h *SlotHandler) ListOneToOne(c *fiber.Ctx) error {
	return h.listAvailable(c, models.SlotKindOneToOne, nil)
}

func (h *SlotHandler) ListHotSeat(c *fiber.Ctx) error {
	var typeID *int64
	if raw := c.Query("type_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid type_id")
		}
		typeID = &parsed
	}
	return h.listAvailable(c, models.SlotKindHotSeat, typeID)
}

func (h *SlotHandler) listAvailable(c *fiber.Ctx, kind string, typeID *int64) error {
	slots, err := h.service.ListAvailable(c.Context(), kind, typeID)
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.JSON(fiber.Map{"slots": slots})
}

func (h *SlotHandler) CreateOneToOne(c *fiber.Ctx) error {
	return h.create(c, models.SlotKindOneToOne)
}

func (h *SlotHandler) CreateHotSeat(c *fiber.Ctx) error {
	return h.create(c, models.SlotKindHotSeat)
}

func (h *SlotHandler) create(c *fiber.Ctx, kind string) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleCoach && role != models.RoleAdmin {
		return forbidden(c)
	}

	var req createSlotRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	slot, err := h.service.CreateSlot(c.Context(), actorID, role, services.CreateSlotInput{
		Kind:            kind,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		HotSeatTypeID:   req.HotSeatTypeID,
		MeetingLink:     req.MeetingLink,
	})
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"slot": slot})
}

func (h *SlotHandler) ListMine(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	slots, err := h.service.ListMine(c.Context(), actorID, role)
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.JSON(fiber.Map{"slots": slots})
}

func (h *SlotHandler) Delete(c *fiber.Ctx) error {
	actorID, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	kind := c.Params("kind")
	if !services.IsValidSlotKind(kind) {
		return badRequest(c, "Invalid slot kind")
	}
	slotID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid slot id")
	}

	if err := h.service.DeleteSlot(c.Context(), actorID, role, kind, slotID); err != nil {
		return h.mapSlotError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SlotHandler) ListHotSeatTypes(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	types, err := h.service.ListHotSeatTypes(c.Context(), role)
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.JSON(fiber.Map{"hot_seat_types": types})
}

func (h *SlotHandler) CreateHotSeatType(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	if role != models.RoleAdmin {
		return forbidden(c)
	}

	var req createHotSeatTypeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if msg := validateRequest(req); msg != "" {
		return badRequest(c, msg)
	}

	hst, err := h.service.CreateHotSeatType(c.Context(), role, services.CreateHotSeatTypeInput{
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"hot_seat_type": hst})
}

// DeactivateHotSeatType hides the type from new slots. Existing slots and
// bookings keep referring to it.
func (h *SlotHandler) DeactivateHotSeatType(c *fiber.Ctx) error {
	_, role, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid hot-seat type id")
	}

	hst, err := h.service.DeactivateHotSeatType(c.Context(), role, id)
	if err != nil {
		return h.mapSlotError(c, err)
	}
	return c.JSON(fiber.Map{"hot_seat_type": hst})
}

func (h *SlotHandler) mapSlotError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrInvalidInput):
		return badRequest(c, invalidInputMessage(err))
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrSlotUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Slot is already booked"})
	default:
		h.logger.Error("slot request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process slot request"})
	}
}
