package repository

import (
	"context"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

type StudentRepository struct {
	db DBTX
}

func NewStudentRepository(db DBTX) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `
	s.id, s.user_id, s.issuer_id, s.package_tier, s.total_price_due, s.total_paid, s.total_coins,
	s.coins_unlocked, s.coins_available, s.one_to_one_allowance, s.hot_seats_total_allowed,
	s.hot_seats_used, s.last_hot_seat_booking_at, s.created_at, s.updated_at`

func ledgerDest(l *models.StudentLedger) []any {
	return []any{
		&l.ID,
		&l.UserID,
		&l.IssuerID,
		&l.PackageTier,
		&l.TotalPriceDue,
		&l.TotalPaid,
		&l.TotalCoins,
		&l.CoinsUnlocked,
		&l.CoinsAvailable,
		&l.OneToOneAllowance,
		&l.HotSeatsTotalAllowed,
		&l.HotSeatsUsed,
		&l.LastHotSeatBookingAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	}
}

func scanLedger(row rowScanner) (*models.StudentLedger, error) {
	var ledger models.StudentLedger
	if err := row.Scan(ledgerDest(&ledger)...); err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *StudentRepository) Create(ctx context.Context, ledger *models.StudentLedger) (*models.StudentLedger, error) {
	query := `
		INSERT INTO students AS s (
			user_id, issuer_id, package_tier, total_price_due, total_paid, total_coins,
			coins_unlocked, coins_available, one_to_one_allowance, hot_seats_total_allowed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(
		ctx,
		query,
		ledger.UserID,
		ledger.IssuerID,
		ledger.PackageTier,
		ledger.TotalPriceDue,
		ledger.TotalPaid,
		ledger.TotalCoins,
		ledger.CoinsUnlocked,
		ledger.CoinsAvailable,
		ledger.OneToOneAllowance,
		ledger.HotSeatsTotalAllowed,
	))
}

func (r *StudentRepository) GetByUserID(ctx context.Context, userID int64) (*models.StudentLedger, error) {
	query := `SELECT ` + studentColumns + ` FROM students s WHERE s.user_id = $1`
	return scanLedger(r.db.QueryRow(ctx, query, userID))
}

func (r *StudentRepository) GetByIDForUpdate(ctx context.Context, studentID int64) (*models.StudentLedger, error) {
	query := `SELECT ` + studentColumns + ` FROM students s WHERE s.id = $1 FOR UPDATE`
	return scanLedger(r.db.QueryRow(ctx, query, studentID))
}

// UpdateBalances writes the payment columns of a ledger locked with
// GetByIDForUpdate.
func (r *StudentRepository) UpdateBalances(ctx context.Context, ledger models.StudentLedger) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET total_paid = $2, coins_unlocked = $3, coins_available = $4, updated_at = NOW()
		WHERE s.id = $1
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, ledger.ID, ledger.TotalPaid, ledger.CoinsUnlocked, ledger.CoinsAvailable))
}

// SpendCoins debits coins only while enough are available.
// pgx.ErrNoRows means the debit lost.
func (r *StudentRepository) SpendCoins(ctx context.Context, userID int64, amount int64) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET coins_available = coins_available - $2, updated_at = NOW()
		WHERE s.user_id = $1 AND coins_available >= $2
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, userID, amount))
}

func (r *StudentRepository) CreditCoins(ctx context.Context, userID int64, amount int64) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET coins_available = coins_available + $2, updated_at = NOW()
		WHERE s.user_id = $1 AND coins_available + $2 <= coins_unlocked
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, userID, amount))
}

// RecordHotSeatUse consumes one Hot-Seat if the quota allows it and nobody
// booked since the caller read previous.
func (r *StudentRepository) RecordHotSeatUse(
	ctx context.Context,
	userID int64,
	previous *time.Time,
	at time.Time,
) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET hot_seats_used = hot_seats_used + 1, last_hot_seat_booking_at = $3, updated_at = NOW()
		WHERE s.user_id = $1
		  AND last_hot_seat_booking_at IS NOT DISTINCT FROM $2
		  AND (hot_seats_total_allowed IS NULL OR hot_seats_used < hot_seats_total_allowed)
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, userID, previous, at))
}

// RevertHotSeatUse undoes RecordHotSeatUse(previous, at).
func (r *StudentRepository) RevertHotSeatUse(
	ctx context.Context,
	userID int64,
	previous *time.Time,
	at time.Time,
) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET hot_seats_used = hot_seats_used - 1, last_hot_seat_booking_at = $2, updated_at = NOW()
		WHERE s.user_id = $1 AND last_hot_seat_booking_at = $3 AND hot_seats_used > 0
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, userID, previous, at))
}

// ReleaseHotSeatUse gives back one Hot-Seat after a cancelled booking. The
// weekly marker is left in place.
func (r *StudentRepository) ReleaseHotSeatUse(ctx context.Context, userID int64) (*models.StudentLedger, error) {
	query := `
		UPDATE students AS s
		SET hot_seats_used = GREATEST(hot_seats_used - 1, 0), updated_at = NOW()
		WHERE s.user_id = $1
		RETURNING ` + studentColumns
	return scanLedger(r.db.QueryRow(ctx, query, userID))
}

const studentSummaryQuery = `
	SELECT ` + studentColumns + `, p.email, p.full_name
	FROM students s
	JOIN profiles p ON p.id = s.user_id
`

func scanStudentSummary(row rowScanner) (*models.StudentSummary, error) {
	var summary models.StudentSummary
	dest := append(ledgerDest(&summary.StudentLedger), &summary.Email, &summary.FullName)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *StudentRepository) GetSummary(ctx context.Context, studentID int64) (*models.StudentSummary, error) {
	return scanStudentSummary(r.db.QueryRow(ctx, studentSummaryQuery+` WHERE s.id = $1`, studentID))
}

// ListSummaries lists students; a nil issuer lists everyone.
func (r *StudentRepository) ListSummaries(ctx context.Context, issuerID *int64) ([]models.StudentSummary, error) {
	query := studentSummaryQuery + `
		WHERE ($1::bigint IS NULL OR s.issuer_id = $1)
		ORDER BY s.created_at DESC, s.id DESC
	`
	rows, err := r.db.Query(ctx, query, issuerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := make([]models.StudentSummary, 0)
	for rows.Next() {
		summary, err := scanStudentSummary(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *summary)
	}
	return students, rows.Err()
}
