package models

import "time"

const (
	RoleStudent = "student"
	RoleCoach   = "coach"
	RoleCloser  = "closer"
	RoleAdmin   = "admin"
)

type Profile struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func IsStaffRole(role string) bool {
	return role == RoleCoach || role == RoleCloser || role == RoleAdmin
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
