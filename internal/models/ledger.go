package models

import "time"

// StudentLedger is the per-student record of payment progress and coin state.
type StudentLedger struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	IssuerID             *int64     `json:"issuer_id"`
	PackageTier          string     `json:"package_tier"`
	TotalPriceDue        int64      `json:"total_price_due"`
	TotalPaid            int64      `json:"total_paid"`
	TotalCoins           int64      `json:"total_coins"`
	CoinsUnlocked        int64      `json:"coins_unlocked"`
	CoinsAvailable       int64      `json:"coins_available"`
	OneToOneAllowance    int        `json:"one_to_one_allowance"`
	HotSeatsTotalAllowed *int       `json:"hot_seats_total_allowed"`
	HotSeatsUsed         int        `json:"hot_seats_used"`
	LastHotSeatBookingAt *time.Time `json:"last_hot_seat_booking_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type PaymentRecord struct {
	ID            int64     `json:"id"`
	StudentID     int64     `json:"student_id"`
	AmountPaid    int64     `json:"amount_paid"`
	CoinsUnlocked int64     `json:"coins_unlocked"`
	Note          *string   `json:"note"`
	RecordedBy    *int64    `json:"recorded_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type StudentSummary struct {
	StudentLedger
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type StudentDetail struct {
	StudentSummary
	Payments []PaymentRecord `json:"payments"`
}
