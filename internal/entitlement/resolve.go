package entitlement

import (
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
)

type Features struct {
	Dashboard bool `json:"dashboard"`
	Chat      bool `json:"chat"`
	Settings  bool `json:"settings"`
	OneToOne  bool `json:"one_to_one"`
	HotSeat   bool `json:"hot_seat"`
}

// HotSeatLimit: Total and Remaining are set in fixed_total mode; ValidUntil
// is set in weekly mode unless access never expires.
type HotSeatLimit struct {
	Mode           packages.HotSeatMode `json:"mode"`
	Total          *int                 `json:"total,omitempty"`
	Used           int                  `json:"used"`
	Remaining      *int                 `json:"remaining,omitempty"`
	ValidityMonths *int                 `json:"validity_months,omitempty"`
	ValidUntil     *time.Time           `json:"valid_until,omitempty"`
}

type OneToOneLimit struct {
	Total           int   `json:"total"`
	Unlocked        int64 `json:"unlocked"`
	Available       int64 `json:"available"`
	CoinsPerSession int64 `json:"coins_per_session"`
}

type Entitlement struct {
	Tier     packages.Tier `json:"tier"`
	Features Features      `json:"features"`
	HotSeat  HotSeatLimit  `json:"hot_seat"`
	OneToOne OneToOneLimit `json:"one_to_one"`
}

// Resolve derives the permission set and booking limits from a ledger.
// It must be recomputed from the current ledger on every read.
func Resolve(l models.StudentLedger) (Entitlement, error) {
	def, err := packages.Lookup(l.PackageTier)
	if err != nil {
		return Entitlement{}, err
	}

	e := Entitlement{
		Tier: def.Tier,
		Features: Features{
			Dashboard: true,
			Chat:      true,
			Settings:  true,
			OneToOne:  def.OneToOneCredits > 0,
			HotSeat:   true,
		},
		HotSeat: HotSeatLimit{Mode: def.HotSeats.Mode, Used: l.HotSeatsUsed},
	}

	switch def.HotSeats.Mode {
	case packages.HotSeatFixedTotal:
		total := 0
		if l.HotSeatsTotalAllowed != nil {
			total = *l.HotSeatsTotalAllowed
		} else if def.HotSeats.Total != nil {
			total = *def.HotSeats.Total
		}
		remaining := total - l.HotSeatsUsed
		if remaining < 0 {
			remaining = 0
		}
		e.HotSeat.Total = &total
		e.HotSeat.Remaining = &remaining
	case packages.HotSeatWeeklyRecurring:
		if def.HotSeats.ValidityMonths != nil {
			months := *def.HotSeats.ValidityMonths
			until := l.CreatedAt.AddDate(0, months, 0)
			e.HotSeat.ValidityMonths = &months
			e.HotSeat.ValidUntil = &until
		}
	}

	perSession := def.CoinsPerOneToOne
	e.OneToOne = OneToOneLimit{Total: l.OneToOneAllowance, CoinsPerSession: perSession}
	if perSession > 0 {
		e.OneToOne.Unlocked = l.CoinsUnlocked / perSession
		e.OneToOne.Available = l.CoinsAvailable / perSession
	}
	return e, nil
}
