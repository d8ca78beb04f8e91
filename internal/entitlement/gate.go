package entitlement

import (
	"fmt"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
)

type DenialCode string

const (
	DeniedOneToOneNotIncluded DenialCode = "package_excludes_one_to_one"
	DeniedInsufficientCoins   DenialCode = "insufficient_unlocked_coins"
	DeniedOneToOneConsumed    DenialCode = "one_to_one_quota_consumed"
	DeniedHotSeatNotIncluded  DenialCode = "package_excludes_hot_seat"
	DeniedHotSeatConsumed     DenialCode = "hot_seat_quota_consumed"
	DeniedHotSeatExpired      DenialCode = "hot_seat_access_expired"
	DeniedHotSeatWeekly       DenialCode = "hot_seat_weekly_limit"
)

// Decision is the gate's verdict. Reason is shown to the student as is.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Code    DenialCode `json:"code,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

var allowed = Decision{Allowed: true}

func deny(code DenialCode, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// CanBookOneToOne tells a payment problem apart from an exhausted quota:
// while coins are still locked the student has to pay their closer.
func CanBookOneToOne(l models.StudentLedger, e Entitlement) Decision {
	if !e.Features.OneToOne {
		return deny(DeniedOneToOneNotIncluded, "Your package does not include One of One sessions")
	}
	cost := e.OneToOne.CoinsPerSession
	if l.CoinsAvailable >= cost {
		return allowed
	}
	if l.CoinsUnlocked < l.TotalCoins {
		return deny(DeniedInsufficientCoins,
			fmt.Sprintf("Not enough unlocked coins (%d required), contact your closer", cost))
	}
	return deny(DeniedOneToOneConsumed, "You have used all your One of One sessions")
}

func CanBookHotSeat(l models.StudentLedger, e Entitlement, now time.Time) Decision {
	if !e.Features.HotSeat {
		return deny(DeniedHotSeatNotIncluded, "Your package does not include Hot-Seats")
	}

	switch e.HotSeat.Mode {
	case packages.HotSeatFixedTotal:
		total := 0
		if e.HotSeat.Total != nil {
			total = *e.HotSeat.Total
		}
		if l.HotSeatsUsed < total {
			return allowed
		}
		if total == 1 {
			return deny(DeniedHotSeatConsumed, "You have already used your unique Hot-Seat")
		}
		return deny(DeniedHotSeatConsumed, fmt.Sprintf("You have used all %d Hot-Seats of your package", total))
	case packages.HotSeatWeeklyRecurring:
		if e.HotSeat.ValidUntil != nil && now.After(*e.HotSeat.ValidUntil) {
			months := 0
			if e.HotSeat.ValidityMonths != nil {
				months = *e.HotSeat.ValidityMonths
			}
			return deny(DeniedHotSeatExpired, fmt.Sprintf("Your Hot-Seat access has expired (%d months)", months))
		}
		if l.LastHotSeatBookingAt != nil && SameWeek(*l.LastHotSeatBookingAt, now) {
			return deny(DeniedHotSeatWeekly, "You have already booked a Hot-Seat this week")
		}
		return allowed
	default:
		return deny(DeniedHotSeatNotIncluded, "Your package does not include Hot-Seats")
	}
}

// StartOfWeek returns Monday 00:00 of t's week in t's location.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// SameWeek reports whether a falls in the calendar week of ref, using ref's
// location. An instant exactly on Monday 00:00 belongs to the new week.
func SameWeek(a, ref time.Time) bool {
	return StartOfWeek(a.In(ref.Location())).Equal(StartOfWeek(ref))
}
