package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/jackc/pgx/v5"
)

type slotStore interface {
	Create(ctx context.Context, input repository.CreateSlotInput) (*models.Slot, error)
	GetByID(ctx context.Context, kind string, slotID int64) (*models.Slot, error)
	List(ctx context.Context, filter repository.SlotListFilter) ([]models.Slot, error)
	DeleteIfAvailable(ctx context.Context, kind string, slotID int64) (bool, error)
}

type hotSeatTypeStore interface {
	Create(ctx context.Context, name string, description *string, durationMinutes int) (*models.HotSeatType, error)
	GetByID(ctx context.Context, id int64) (*models.HotSeatType, error)
	List(ctx context.Context, includeInactive bool) ([]models.HotSeatType, error)
	Deactivate(ctx context.Context, id int64) (*models.HotSeatType, error)
}

type settingsReader interface {
	Get(ctx context.Context) (*models.AppSettings, error)
}

type CreateSlotInput struct {
	Kind            string
	ScheduledAt     time.Time
	DurationMinutes int
	HotSeatTypeID   *int64
	MeetingLink     *string
}

type CreateHotSeatTypeInput struct {
	Name            string
	Description     *string
	DurationMinutes int
}

type SlotService struct {
	slots    slotStore
	types    hotSeatTypeStore
	settings settingsReader
	now      func() time.Time
}

func NewSlotService(slots slotStore, types hotSeatTypeStore, settings settingsReader) *SlotService {
	return &SlotService{
		slots:    slots,
		types:    types,
		settings: settings,
		now:      time.Now,
	}
}

func IsValidSlotKind(kind string) bool {
	return kind == models.SlotKindOneToOne || kind == models.SlotKindHotSeat
}

// CreateSlot publishes a bookable slot for the calling coach. One of One
// slots take their duration from the app settings unless given; Hot-Seat
// slots always use the duration of their type.
func (s *SlotService) CreateSlot(ctx context.Context, actorID int64, role string, input CreateSlotInput) (*models.Slot, error) {
	if role != models.RoleCoach && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !IsValidSlotKind(input.Kind) {
		return nil, fmt.Errorf("%w: unknown slot kind", ErrInvalidInput)
	}
	if !input.ScheduledAt.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled_at must be in the future", ErrInvalidInput)
	}
	if input.MeetingLink != nil {
		link := strings.TrimSpace(*input.MeetingLink)
		if link == "" {
			input.MeetingLink = nil
		} else {
			input.MeetingLink = &link
		}
	}

	create := repository.CreateSlotInput{
		Kind:        input.Kind,
		CoachID:     actorID,
		ScheduledAt: input.ScheduledAt.UTC(),
		MeetingLink: input.MeetingLink,
	}

	switch input.Kind {
	case models.SlotKindOneToOne:
		duration := input.DurationMinutes
		if duration <= 0 {
			settings, err := s.settings.Get(ctx)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, err
			}
			duration = DefaultOneToOneDurationMinutes
			if settings != nil && settings.OneToOneDurationMinutes > 0 {
				duration = settings.OneToOneDurationMinutes
			}
		}
		create.DurationMinutes = duration
	case models.SlotKindHotSeat:
		if input.HotSeatTypeID == nil || *input.HotSeatTypeID <= 0 {
			return nil, fmt.Errorf("%w: hot_seat_type_id is required", ErrInvalidInput)
		}
		hst, err := s.types.GetByID(ctx, *input.HotSeatTypeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: unknown hot-seat type", ErrInvalidInput)
			}
			return nil, err
		}
		if !hst.IsActive {
			return nil, fmt.Errorf("%w: hot-seat type is inactive", ErrInvalidInput)
		}
		create.HotSeatTypeID = &hst.ID
		create.DurationMinutes = hst.DurationMinutes
	}

	return s.slots.Create(ctx, create)
}

// ListAvailable returns upcoming slots nobody has booked yet.
func (s *SlotService) ListAvailable(ctx context.Context, kind string, hotSeatTypeID *int64) ([]models.Slot, error) {
	if !IsValidSlotKind(kind) {
		return nil, fmt.Errorf("%w: unknown slot kind", ErrInvalidInput)
	}
	from := s.now()
	return s.slots.List(ctx, repository.SlotListFilter{
		Kind:          kind,
		HotSeatTypeID: hotSeatTypeID,
		From:          &from,
		OnlyAvailable: true,
	})
}

// ListMine returns every slot of the coach, booked or not, both kinds.
func (s *SlotService) ListMine(ctx context.Context, actorID int64, role string) ([]models.Slot, error) {
	if role != models.RoleCoach && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	out := make([]models.Slot, 0)
	for _, kind := range []string{models.SlotKindOneToOne, models.SlotKindHotSeat} {
		slots, err := s.slots.List(ctx, repository.SlotListFilter{Kind: kind, CoachID: &actorID})
		if err != nil {
			return nil, err
		}
		out = append(out, slots...)
	}
	return out, nil
}

func (s *SlotService) DeleteSlot(ctx context.Context, actorID int64, role string, kind string, slotID int64) error {
	if role != models.RoleCoach && role != models.RoleAdmin {
		return ErrForbidden
	}
	if !IsValidSlotKind(kind) {
		return fmt.Errorf("%w: unknown slot kind", ErrInvalidInput)
	}
	slot, err := s.slots.GetByID(ctx, kind, slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if role != models.RoleAdmin && slot.CoachID != actorID {
		return ErrForbidden
	}
	deleted, err := s.slots.DeleteIfAvailable(ctx, kind, slotID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSlotUnavailable
	}
	return nil
}

func (s *SlotService) CreateHotSeatType(ctx context.Context, role string, input CreateHotSeatTypeInput) (*models.HotSeatType, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || input.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}
	description := input.Description
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed == "" {
			description = nil
		} else {
			description = &trimmed
		}
	}
	return s.types.Create(ctx, name, description, input.DurationMinutes)
}

// ListHotSeatTypes hides inactive types from everyone but admins.
func (s *SlotService) ListHotSeatTypes(ctx context.Context, role string) ([]models.HotSeatType, error) {
	return s.types.List(ctx, role == models.RoleAdmin)
}

func (s *SlotService) DeactivateHotSeatType(ctx context.Context, role string, id int64) (*models.HotSeatType, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	hst, err := s.types.Deactivate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return hst, nil
}
