package models

import "time"

const (
	BookingConfirmed = "confirmed"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

type Booking struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	UserID     int64     `json:"user_id"`
	SlotID     int64     `json:"slot_id"`
	Status     string    `json:"status"`
	CoinsSpent *int64    `json:"coins_spent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BookingDetail struct {
	Booking
	Slot *Slot `json:"slot,omitempty"`
}
