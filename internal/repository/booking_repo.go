package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

var bookingTables = map[string]string{
	models.SlotKindOneToOne: "one_of_one_bookings",
	models.SlotKindHotSeat:  "hotset_bookings",
}

func bookingTable(kind string) (string, error) {
	table, ok := bookingTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown booking kind %q", kind)
	}
	return table, nil
}

func bookingColumns(kind string) string {
	coins := "NULL::bigint"
	if kind == models.SlotKindOneToOne {
		coins = "coins_spent"
	}
	return "id, user_id, slot_id, status, " + coins + ", created_at, updated_at"
}

func scanBooking(kind string, row rowScanner) (*models.Booking, error) {
	booking := models.Booking{Kind: kind}
	err := row.Scan(
		&booking.ID,
		&booking.UserID,
		&booking.SlotID,
		&booking.Status,
		&booking.CoinsSpent,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

type BookingListFilter struct {
	Kind    string
	UserID  *int64
	CoachID *int64
	Status  string
}

type BookingRepository struct {
	db DBTX
}

func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(
	ctx context.Context,
	kind string,
	userID int64,
	slotID int64,
	coinsSpent int64,
) (*models.Booking, error) {
	table, err := bookingTable(kind)
	if err != nil {
		return nil, err
	}

	var query string
	args := []any{userID, slotID}
	if kind == models.SlotKindOneToOne {
		query = fmt.Sprintf(`
			INSERT INTO %s (user_id, slot_id, status, coins_spent)
			VALUES ($1, $2, 'confirmed', $3)
			RETURNING %s
		`, table, bookingColumns(kind))
		args = append(args, coinsSpent)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (user_id, slot_id, status)
			VALUES ($1, $2, 'confirmed')
			RETURNING %s
		`, table, bookingColumns(kind))
	}
	return scanBooking(kind, r.db.QueryRow(ctx, query, args...))
}

func (r *BookingRepository) GetByID(ctx context.Context, kind string, bookingID int64) (*models.Booking, error) {
	table, err := bookingTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, bookingColumns(kind), table)
	return scanBooking(kind, r.db.QueryRow(ctx, query, bookingID))
}

// UpdateStatusIfCurrent returns pgx.ErrNoRows when the booking is no longer
// in currentStatus.
func (r *BookingRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	kind string,
	bookingID int64,
	currentStatus string,
	nextStatus string,
) (*models.Booking, error) {
	table, err := bookingTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, table, bookingColumns(kind))
	return scanBooking(kind, r.db.QueryRow(ctx, query, bookingID, currentStatus, nextStatus))
}

func (r *BookingRepository) List(ctx context.Context, filter BookingListFilter) ([]models.BookingDetail, error) {
	table, err := bookingTable(filter.Kind)
	if err != nil {
		return nil, err
	}
	slots, err := slotTable(filter.Kind)
	if err != nil {
		return nil, err
	}

	args := []any{}
	whereParts := []string{"TRUE"}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		whereParts = append(whereParts, fmt.Sprintf("b.user_id = $%d", len(args)))
	}
	if filter.CoachID != nil {
		args = append(args, *filter.CoachID)
		whereParts = append(whereParts, fmt.Sprintf("sl.coach_id = $%d", len(args)))
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("b.status = $%d", len(args)))
	}

	coins := "NULL::bigint"
	typeColumn := "NULL::bigint"
	if filter.Kind == models.SlotKindOneToOne {
		coins = "b.coins_spent"
	} else {
		typeColumn = "sl.hotset_type_id"
	}

	query := fmt.Sprintf(`
		SELECT b.id, b.user_id, b.slot_id, b.status, %s, b.created_at, b.updated_at,
		       sl.id, sl.coach_id, %s, sl.scheduled_at, sl.duration_minutes, sl.is_available, sl.meeting_link, sl.created_at
		FROM %s b
		JOIN %s sl ON sl.id = b.slot_id
		WHERE %s
		ORDER BY sl.scheduled_at ASC, b.id ASC
	`, coins, typeColumn, table, slots, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]models.BookingDetail, 0)
	for rows.Next() {
		detail := models.BookingDetail{
			Booking: models.Booking{Kind: filter.Kind},
			Slot:    &models.Slot{Kind: filter.Kind},
		}
		if err := rows.Scan(
			&detail.ID,
			&detail.UserID,
			&detail.SlotID,
			&detail.Status,
			&detail.CoinsSpent,
			&detail.CreatedAt,
			&detail.UpdatedAt,
			&detail.Slot.ID,
			&detail.Slot.CoachID,
			&detail.Slot.HotSeatTypeID,
			&detail.Slot.ScheduledAt,
			&detail.Slot.DurationMinutes,
			&detail.Slot.IsAvailable,
			&detail.Slot.MeetingLink,
			&detail.Slot.CreatedAt,
		); err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, rows.Err()
}
