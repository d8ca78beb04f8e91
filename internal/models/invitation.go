package models

import "time"

type InvitationCode struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	IssuerID     int64      `json:"issuer_id"`
	PackageTier  string     `json:"package_tier"`
	CoinsGranted int64      `json:"coins_granted"`
	Used         bool       `json:"used"`
	UsedByUserID *int64     `json:"used_by_user_id"`
	UsedAt       *time.Time `json:"used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}
