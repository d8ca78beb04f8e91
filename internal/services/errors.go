package services

import (
	"errors"

	"github.com/Jokecross/saasmoneyV2/internal/entitlement"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrConflict               = errors.New("conflict")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrStudentNotFound        = errors.New("student not found")
	ErrEmailTaken             = errors.New("email already exists")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrInvitationNotFound     = errors.New("invitation code not found")
	ErrInvitationUsed         = errors.New("invitation code already used")
	ErrInsufficientCoins      = errors.New("insufficient available coins")
	ErrSlotUnavailable        = errors.New("slot is no longer available")
	ErrCompensationFailed     = errors.New("booking compensation failed")
)

// DenialError is a business-rule refusal from the booking gate. It is
// expected and carries the reason shown to the student.
type DenialError struct {
	Decision entitlement.Decision
}

func (e *DenialError) Error() string {
	return e.Decision.Reason
}

func deny(d entitlement.Decision) error {
	return &DenialError{Decision: d}
}
