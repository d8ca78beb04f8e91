package models

import "time"

type AppSettings struct {
	OneToOneDurationMinutes int       `json:"one_of_one_duration_minutes"`
	RefundAISystemPrompt    *string   `json:"refund_ai_system_prompt"`
	UpdatedAt               time.Time `json:"updated_at"`
}
