package models

import "time"

const (
	SlotKindOneToOne = "one-of-one"
	SlotKindHotSeat  = "hot-seat"
)

type Slot struct {
	ID              int64     `json:"id"`
	Kind            string    `json:"kind"`
	CoachID         int64     `json:"coach_id"`
	HotSeatTypeID   *int64    `json:"hot_seat_type_id,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	IsAvailable     bool      `json:"is_available"`
	MeetingLink     *string   `json:"meeting_link"`
	CreatedAt       time.Time `json:"created_at"`
}

type HotSeatType struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}
