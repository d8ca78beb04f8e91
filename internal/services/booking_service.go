package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/entitlement"
	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/jackc/pgx/v5"
)

type bookingLedgerStore interface {
	GetByUserID(ctx context.Context, userID int64) (*models.StudentLedger, error)
	SpendCoins(ctx context.Context, userID int64, amount int64) (*models.StudentLedger, error)
	CreditCoins(ctx context.Context, userID int64, amount int64) (*models.StudentLedger, error)
	RecordHotSeatUse(ctx context.Context, userID int64, previous *time.Time, at time.Time) (*models.StudentLedger, error)
	RevertHotSeatUse(ctx context.Context, userID int64, previous *time.Time, at time.Time) (*models.StudentLedger, error)
	ReleaseHotSeatUse(ctx context.Context, userID int64) (*models.StudentLedger, error)
}

type bookingSlotStore interface {
	GetByID(ctx context.Context, kind string, slotID int64) (*models.Slot, error)
	Claim(ctx context.Context, kind string, slotID int64) (*models.Slot, error)
	Release(ctx context.Context, kind string, slotID int64) error
}

type bookingStore interface {
	Create(ctx context.Context, kind string, userID int64, slotID int64, coinsSpent int64) (*models.Booking, error)
	GetByID(ctx context.Context, kind string, bookingID int64) (*models.Booking, error)
	UpdateStatusIfCurrent(ctx context.Context, kind string, bookingID int64, currentStatus string, nextStatus string) (*models.Booking, error)
	List(ctx context.Context, filter repository.BookingListFilter) ([]models.BookingDetail, error)
}

// bookingStores are the stores bound to one transaction.
type bookingStores struct {
	students bookingLedgerStore
	slots    bookingSlotStore
	bookings bookingStore
}

type bookingTxRunner func(ctx context.Context, fn func(stores bookingStores) error) error

// BookingService runs the booking sequences against conditional single-row
// updates. Every step after the first has a compensating action, so a
// failure part way leaves the ledger and the slot as they were. Staff status
// changes run in one transaction instead.
type BookingService struct {
	students bookingLedgerStore
	slots    bookingSlotStore
	bookings bookingStore
	runTx    bookingTxRunner
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

func NewBookingService(
	db txBeginner,
	students bookingLedgerStore,
	slots bookingSlotStore,
	bookings bookingStore,
	loc *time.Location,
	logger *slog.Logger,
) *BookingService {
	if loc == nil {
		loc = time.UTC
	}
	s := &BookingService{
		students: students,
		slots:    slots,
		bookings: bookings,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
	s.runTx = func(_ context.Context, fn func(stores bookingStores) error) error {
		return fn(bookingStores{students: s.students, slots: s.slots, bookings: s.bookings})
	}
	if db != nil {
		s.runTx = func(ctx context.Context, fn func(stores bookingStores) error) error {
			return inTx(ctx, db, func(tx pgx.Tx) error {
				return fn(bookingStores{
					students: repository.NewStudentRepository(tx),
					slots:    repository.NewSlotRepository(tx),
					bookings: repository.NewBookingRepository(tx),
				})
			})
		}
	}
	return s
}

func (s *BookingService) loadEntitlement(ctx context.Context, userID int64) (*models.StudentLedger, entitlement.Entitlement, error) {
	ledger, err := s.students.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entitlement.Entitlement{}, ErrStudentNotFound
		}
		return nil, entitlement.Entitlement{}, err
	}
	ent, err := entitlement.Resolve(*ledger)
	if err != nil {
		s.logger.Error("ledger references unknown package", "user_id", userID, "tier", ledger.PackageTier)
		return nil, entitlement.Entitlement{}, err
	}
	return ledger, ent, nil
}

func (s *BookingService) openSlot(ctx context.Context, kind string, slotID int64) (*models.Slot, error) {
	slot, err := s.slots.GetByID(ctx, kind, slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !slot.IsAvailable || !slot.ScheduledAt.After(s.now()) {
		return nil, ErrSlotUnavailable
	}
	return slot, nil
}

// BookOneToOne debits the session price first, then claims the slot, then
// writes the booking.
func (s *BookingService) BookOneToOne(ctx context.Context, userID int64, slotID int64) (*models.BookingDetail, error) {
	ledger, ent, err := s.loadEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d := entitlement.CanBookOneToOne(*ledger, ent); !d.Allowed {
		return nil, deny(d)
	}
	if _, err := s.openSlot(ctx, models.SlotKindOneToOne, slotID); err != nil {
		return nil, err
	}

	cost := ent.OneToOne.CoinsPerSession
	if _, err := s.students.SpendCoins(ctx, userID, cost); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientCoins
		}
		return nil, err
	}

	slot, err := s.slots.Claim(ctx, models.SlotKindOneToOne, slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrSlotUnavailable
		}
		return nil, s.creditBack(ctx, userID, cost, err)
	}

	booking, err := s.bookings.Create(ctx, models.SlotKindOneToOne, userID, slotID, cost)
	if err != nil {
		if repository.IsUniqueViolation(err, "") {
			err = ErrSlotUnavailable
		}
		err = s.releaseSlot(ctx, models.SlotKindOneToOne, slotID, err)
		return nil, s.creditBack(ctx, userID, cost, err)
	}

	s.logger.Info("one-of-one booked", "user_id", userID, "slot_id", slotID, "coins", cost)
	return &models.BookingDetail{Booking: *booking, Slot: slot}, nil
}

// BookHotSeat consumes the Hot-Seat allowance with a compare-and-set on the
// last booking time, so two concurrent attempts in one week cannot both pass.
func (s *BookingService) BookHotSeat(ctx context.Context, userID int64, slotID int64) (*models.BookingDetail, error) {
	ledger, ent, err := s.loadEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().In(s.loc)
	if d := entitlement.CanBookHotSeat(*ledger, ent, now); !d.Allowed {
		return nil, deny(d)
	}
	if _, err := s.openSlot(ctx, models.SlotKindHotSeat, slotID); err != nil {
		return nil, err
	}

	previous := ledger.LastHotSeatBookingAt
	at := now.UTC().Truncate(time.Microsecond)
	if _, err := s.students.RecordHotSeatUse(ctx, userID, previous, at); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, s.hotSeatRaceLost(ctx, userID)
	}

	slot, err := s.slots.Claim(ctx, models.SlotKindHotSeat, slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrSlotUnavailable
		}
		return nil, s.revertHotSeat(ctx, userID, previous, at, err)
	}

	booking, err := s.bookings.Create(ctx, models.SlotKindHotSeat, userID, slotID, 0)
	if err != nil {
		if repository.IsUniqueViolation(err, "") {
			err = ErrSlotUnavailable
		}
		err = s.releaseSlot(ctx, models.SlotKindHotSeat, slotID, err)
		return nil, s.revertHotSeat(ctx, userID, previous, at, err)
	}

	s.logger.Info("hot-seat booked", "user_id", userID, "slot_id", slotID)
	return &models.BookingDetail{Booking: *booking, Slot: slot}, nil
}

// hotSeatRaceLost explains a failed usage update: either a concurrent
// booking used the allowance, or the ledger changed under us.
func (s *BookingService) hotSeatRaceLost(ctx context.Context, userID int64) error {
	ledger, ent, err := s.loadEntitlement(ctx, userID)
	if err != nil {
		return err
	}
	if d := entitlement.CanBookHotSeat(*ledger, ent, s.now().In(s.loc)); !d.Allowed {
		return deny(d)
	}
	return ErrConflict
}

func (s *BookingService) creditBack(ctx context.Context, userID int64, amount int64, cause error) error {
	if _, err := s.students.CreditCoins(context.WithoutCancel(ctx), userID, amount); err != nil {
		s.logger.Error("coin credit-back failed",
			"user_id", userID,
			"amount", amount,
			"cause", cause.Error(),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrCompensationFailed, cause)
	}
	return cause
}

func (s *BookingService) releaseSlot(ctx context.Context, kind string, slotID int64, cause error) error {
	if err := s.slots.Release(context.WithoutCancel(ctx), kind, slotID); err != nil {
		s.logger.Error("slot release failed",
			"kind", kind,
			"slot_id", slotID,
			"cause", cause.Error(),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrCompensationFailed, cause)
	}
	return cause
}

func (s *BookingService) revertHotSeat(ctx context.Context, userID int64, previous *time.Time, at time.Time, cause error) error {
	if _, err := s.students.RevertHotSeatUse(context.WithoutCancel(ctx), userID, previous, at); err != nil {
		s.logger.Error("hot-seat usage revert failed",
			"user_id", userID,
			"cause", cause.Error(),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrCompensationFailed, cause)
	}
	return cause
}

// UpdateStatus moves a confirmed booking to completed or cancelled. Only the
// slot's coach or an admin may do it. Cancelling re-opens the slot and gives
// the student back what the booking consumed.
func (s *BookingService) UpdateStatus(
	ctx context.Context,
	actorID int64,
	role string,
	kind string,
	bookingID int64,
	status string,
) (*models.Booking, error) {
	if role != models.RoleCoach && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !IsValidSlotKind(kind) {
		return nil, fmt.Errorf("%w: unknown booking kind", ErrInvalidInput)
	}
	if status != models.BookingCompleted && status != models.BookingCancelled {
		return nil, ErrInvalidStatus
	}

	booking, err := s.bookings.GetByID(ctx, kind, bookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if role != models.RoleAdmin {
		slot, err := s.slots.GetByID(ctx, kind, booking.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.CoachID != actorID {
			return nil, ErrForbidden
		}
	}
	if booking.Status != models.BookingConfirmed {
		return nil, ErrInvalidStateTransition
	}

	var updated *models.Booking
	err = s.runTx(ctx, func(stores bookingStores) error {
		var err error
		updated, err = stores.bookings.UpdateStatusIfCurrent(ctx, kind, bookingID, models.BookingConfirmed, status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvalidStateTransition
			}
			return err
		}
		if status != models.BookingCancelled {
			return nil
		}
		return restoreCancelled(ctx, stores, kind, updated)
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidStateTransition) {
			s.logger.Error("booking status change rolled back",
				"kind", kind,
				"booking_id", bookingID,
				"status", status,
				"error", err,
			)
		}
		return nil, err
	}
	if status == models.BookingCancelled {
		s.logger.Info("booking cancelled", "kind", kind, "booking_id", bookingID, "actor_id", actorID)
	}
	return updated, nil
}

// restoreCancelled re-opens the slot and gives back what the booking
// consumed.
func restoreCancelled(ctx context.Context, stores bookingStores, kind string, booking *models.Booking) error {
	if err := stores.slots.Release(ctx, kind, booking.SlotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	switch kind {
	case models.SlotKindOneToOne:
		if booking.CoinsSpent == nil || *booking.CoinsSpent <= 0 {
			return nil
		}
		if _, err := stores.students.CreditCoins(ctx, booking.UserID, *booking.CoinsSpent); err != nil {
			return fmt.Errorf("credit coins: %w", err)
		}
	case models.SlotKindHotSeat:
		if _, err := stores.students.ReleaseHotSeatUse(ctx, booking.UserID); err != nil {
			return fmt.Errorf("release hot-seat use: %w", err)
		}
	}
	return nil
}

// ListBookings scopes the listing by role. An empty kind lists both kinds.
func (s *BookingService) ListBookings(
	ctx context.Context,
	actorID int64,
	role string,
	kind string,
	status string,
) ([]models.BookingDetail, error) {
	filter := repository.BookingListFilter{Status: status}
	switch role {
	case models.RoleStudent:
		filter.UserID = &actorID
	case models.RoleCoach:
		filter.CoachID = &actorID
	case models.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	if status != "" && status != models.BookingConfirmed && status != models.BookingCompleted && status != models.BookingCancelled {
		return nil, ErrInvalidStatus
	}

	kinds := []string{models.SlotKindOneToOne, models.SlotKindHotSeat}
	if kind != "" {
		if !IsValidSlotKind(kind) {
			return nil, fmt.Errorf("%w: unknown booking kind", ErrInvalidInput)
		}
		kinds = []string{kind}
	}

	out := make([]models.BookingDetail, 0)
	for _, k := range kinds {
		filter.Kind = k
		items, err := s.bookings.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}
