package repository

import (
	"context"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

type CreatePaymentInput struct {
	StudentID     int64
	AmountPaid    int64
	CoinsUnlocked int64
	Note          *string
	RecordedBy    *int64
}

// PaymentRepository appends to student_payments. Rows are never updated.
type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, input CreatePaymentInput) (*models.PaymentRecord, error) {
	query := `
		INSERT INTO student_payments (student_id, amount_paid, coins_unlocked, note, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, student_id, amount_paid, coins_unlocked, note, recorded_by, created_at
	`

	var payment models.PaymentRecord
	err := r.db.QueryRow(ctx, query, input.StudentID, input.AmountPaid, input.CoinsUnlocked, input.Note, input.RecordedBy).Scan(
		&payment.ID,
		&payment.StudentID,
		&payment.AmountPaid,
		&payment.CoinsUnlocked,
		&payment.Note,
		&payment.RecordedBy,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID int64) ([]models.PaymentRecord, error) {
	query := `
		SELECT id, student_id, amount_paid, coins_unlocked, note, recorded_by, created_at
		FROM student_payments
		WHERE student_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]models.PaymentRecord, 0)
	for rows.Next() {
		var payment models.PaymentRecord
		if err := rows.Scan(
			&payment.ID,
			&payment.StudentID,
			&payment.AmountPaid,
			&payment.CoinsUnlocked,
			&payment.Note,
			&payment.RecordedBy,
			&payment.CreatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}
