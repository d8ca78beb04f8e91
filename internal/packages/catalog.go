// Package packages holds the static catalog of purchasable coaching packages.
package packages

import (
	"errors"
	"fmt"
	"strings"
)

type Tier string

const (
	Tier700   Tier = "700"
	Tier3000  Tier = "3000"
	Tier5000  Tier = "5000"
	Tier15000 Tier = "15000"
)

type HotSeatMode string

const (
	HotSeatFixedTotal      HotSeatMode = "fixed_total"
	HotSeatWeeklyRecurring HotSeatMode = "weekly_recurring"
)

var ErrUnknownPackage = errors.New("unknown package")

// HotSeatPolicy describes how Hot-Seats are granted. Total is set for
// fixed_total; ValidityMonths is nil when weekly access never expires.
type HotSeatPolicy struct {
	Mode           HotSeatMode `json:"mode"`
	Total          *int        `json:"total,omitempty"`
	ValidityMonths *int        `json:"validity_months,omitempty"`
}

type Definition struct {
	Tier                Tier          `json:"tier"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	PriceAmount         int64         `json:"price_amount"`
	TotalCoins          int64         `json:"total_coins"`
	OneToOneCredits     int           `json:"one_to_one_credits"`
	HotSeats            HotSeatPolicy `json:"hot_seats"`
	PaymentInstallments int           `json:"payment_installments"`
	CoinsPerOneToOne    int64         `json:"coins_per_one_to_one"`
}

// RequiresUpfrontPayment reports whether the whole price is settled at signup.
func (d Definition) RequiresUpfrontPayment() bool {
	return d.PaymentInstallments == 1
}

func intPtr(v int) *int { return &v }

var catalog = map[Tier]Definition{
	Tier700: {
		Tier:                Tier700,
		Name:                "Pack 700",
		Description:         "One Hot-Seat, paid in full at signup",
		PriceAmount:         700,
		TotalCoins:          0,
		OneToOneCredits:     0,
		HotSeats:            HotSeatPolicy{Mode: HotSeatFixedTotal, Total: intPtr(1)},
		PaymentInstallments: 1,
		CoinsPerOneToOne:    1000,
	},
	Tier3000: {
		Tier:                Tier3000,
		Name:                "Pack 3000",
		Description:         "Six Hot-Seats over three months",
		PriceAmount:         3000,
		TotalCoins:          0,
		OneToOneCredits:     0,
		HotSeats:            HotSeatPolicy{Mode: HotSeatFixedTotal, Total: intPtr(6), ValidityMonths: intPtr(3)},
		PaymentInstallments: 3,
		CoinsPerOneToOne:    1000,
	},
	Tier5000: {
		Tier:                Tier5000,
		Name:                "Pack 5000",
		Description:         "Eight One-of-One calls and a weekly Hot-Seat for six months",
		PriceAmount:         5000,
		TotalCoins:          4000,
		OneToOneCredits:     8,
		HotSeats:            HotSeatPolicy{Mode: HotSeatWeeklyRecurring, ValidityMonths: intPtr(6)},
		PaymentInstallments: 5,
		CoinsPerOneToOne:    500,
	},
	Tier15000: {
		Tier:                Tier15000,
		Name:                "Pack 15000",
		Description:         "Fifteen One-of-One calls and a weekly Hot-Seat for life",
		PriceAmount:         15000,
		TotalCoins:          15000,
		OneToOneCredits:     15,
		HotSeats:            HotSeatPolicy{Mode: HotSeatWeeklyRecurring},
		PaymentInstallments: 3,
		CoinsPerOneToOne:    1000,
	},
}

// legacy keys still present on old invitation codes and ledgers
var aliases = map[string]Tier{
	"7000": Tier5000,
}

// Canonical resolves a raw tier key, following legacy aliases.
func Canonical(raw string) (Tier, error) {
	key := strings.TrimSpace(raw)
	if alias, ok := aliases[key]; ok {
		return alias, nil
	}
	tier := Tier(key)
	if _, ok := catalog[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPackage, raw)
	}
	return tier, nil
}

// Lookup returns the definition for a tier key. Callers must treat
// ErrUnknownPackage as configuration drift, not as a user error.
func Lookup(raw string) (Definition, error) {
	tier, err := Canonical(raw)
	if err != nil {
		return Definition{}, err
	}
	return catalog[tier], nil
}

// All returns every definition ordered by price.
func All() []Definition {
	order := []Tier{Tier700, Tier3000, Tier5000, Tier15000}
	defs := make([]Definition, 0, len(order))
	for _, tier := range order {
		defs = append(defs, catalog[tier])
	}
	return defs
}
