package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

var slotTables = map[string]string{
	models.SlotKindOneToOne: "one_of_one_slots",
	models.SlotKindHotSeat:  "hotset_slots",
}

func slotTable(kind string) (string, error) {
	table, ok := slotTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown slot kind %q", kind)
	}
	return table, nil
}

type CreateSlotInput struct {
	Kind            string
	CoachID         int64
	HotSeatTypeID   *int64
	ScheduledAt     time.Time
	DurationMinutes int
	MeetingLink     *string
}

type SlotListFilter struct {
	Kind          string
	CoachID       *int64
	HotSeatTypeID *int64
	From          *time.Time
	OnlyAvailable bool
}

type SlotRepository struct {
	db DBTX
}

func NewSlotRepository(db DBTX) *SlotRepository {
	return &SlotRepository{db: db}
}

func slotColumns(kind string) string {
	typeColumn := "NULL::bigint"
	if kind == models.SlotKindHotSeat {
		typeColumn = "hotset_type_id"
	}
	return "id, coach_id, " + typeColumn + ", scheduled_at, duration_minutes, is_available, meeting_link, created_at"
}

func scanSlot(kind string, row rowScanner) (*models.Slot, error) {
	slot := models.Slot{Kind: kind}
	err := row.Scan(
		&slot.ID,
		&slot.CoachID,
		&slot.HotSeatTypeID,
		&slot.ScheduledAt,
		&slot.DurationMinutes,
		&slot.IsAvailable,
		&slot.MeetingLink,
		&slot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *SlotRepository) Create(ctx context.Context, input CreateSlotInput) (*models.Slot, error) {
	table, err := slotTable(input.Kind)
	if err != nil {
		return nil, err
	}

	var query string
	args := []any{input.CoachID, input.ScheduledAt, input.DurationMinutes, input.MeetingLink}
	if input.Kind == models.SlotKindHotSeat {
		query = fmt.Sprintf(`
			INSERT INTO %s (coach_id, scheduled_at, duration_minutes, meeting_link, hotset_type_id, is_available)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			RETURNING %s
		`, table, slotColumns(input.Kind))
		args = append(args, input.HotSeatTypeID)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (coach_id, scheduled_at, duration_minutes, meeting_link, is_available)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING %s
		`, table, slotColumns(input.Kind))
	}
	return scanSlot(input.Kind, r.db.QueryRow(ctx, query, args...))
}

func (r *SlotRepository) GetByID(ctx context.Context, kind string, slotID int64) (*models.Slot, error) {
	table, err := slotTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, slotColumns(kind), table)
	return scanSlot(kind, r.db.QueryRow(ctx, query, slotID))
}

func (r *SlotRepository) List(ctx context.Context, filter SlotListFilter) ([]models.Slot, error) {
	table, err := slotTable(filter.Kind)
	if err != nil {
		return nil, err
	}

	args := []any{}
	whereParts := []string{"TRUE"}
	if filter.OnlyAvailable {
		whereParts = append(whereParts, "is_available = TRUE")
	}
	if filter.CoachID != nil {
		args = append(args, *filter.CoachID)
		whereParts = append(whereParts, fmt.Sprintf("coach_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		whereParts = append(whereParts, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if filter.HotSeatTypeID != nil && filter.Kind == models.SlotKindHotSeat {
		args = append(args, *filter.HotSeatTypeID)
		whereParts = append(whereParts, fmt.Sprintf("hotset_type_id = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
	`, slotColumns(filter.Kind), table, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]models.Slot, 0)
	for rows.Next() {
		slot, err := scanSlot(filter.Kind, rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// Claim marks an available slot as taken. pgx.ErrNoRows means another
// booker won the slot or it no longer exists.
func (r *SlotRepository) Claim(ctx context.Context, kind string, slotID int64) (*models.Slot, error) {
	table, err := slotTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET is_available = FALSE
		WHERE id = $1 AND is_available = TRUE
		RETURNING %s
	`, table, slotColumns(kind))
	return scanSlot(kind, r.db.QueryRow(ctx, query, slotID))
}

func (r *SlotRepository) Release(ctx context.Context, kind string, slotID int64) error {
	table, err := slotTable(kind)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET is_available = TRUE WHERE id = $1`, table), slotID)
	return err
}

// DeleteIfAvailable removes a slot nobody has booked. It reports false when
// no row matched.
func (r *SlotRepository) DeleteIfAvailable(ctx context.Context, kind string, slotID int64) (bool, error) {
	table, err := slotTable(kind)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND is_available = TRUE`, table), slotID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
