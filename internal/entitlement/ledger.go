// Package entitlement holds the ledger arithmetic and the booking rules
// derived from a student's package and payment progress. Everything here is
// pure: persistence and atomicity belong to the callers.
package entitlement

import (
	"errors"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
)

const InitialPaymentNote = "initial full payment"

var (
	ErrNonPositiveAmount = errors.New("payment amount must be greater than zero")
	ErrOverpayment       = errors.New("payment exceeds the remaining balance")
)

// Seed is the state written when a student registers.
type Seed struct {
	Ledger         models.StudentLedger
	InitialPayment *models.PaymentRecord
}

// NewLedger derives a student's opening ledger from the invitation they
// registered with. Packages paid in one installment start fully unlocked.
func NewLedger(inv models.InvitationCode, userID int64, now time.Time) (Seed, error) {
	def, err := packages.Lookup(inv.PackageTier)
	if err != nil {
		return Seed{}, err
	}

	issuerID := inv.IssuerID
	ledger := models.StudentLedger{
		UserID:            userID,
		IssuerID:          &issuerID,
		PackageTier:       string(def.Tier),
		TotalPriceDue:     def.PriceAmount,
		TotalCoins:        def.TotalCoins,
		OneToOneAllowance: def.OneToOneCredits,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if def.HotSeats.Mode == packages.HotSeatFixedTotal && def.HotSeats.Total != nil {
		total := *def.HotSeats.Total
		ledger.HotSeatsTotalAllowed = &total
	}

	seed := Seed{Ledger: ledger}
	if def.RequiresUpfrontPayment() {
		seed.Ledger.TotalPaid = def.PriceAmount
		seed.Ledger.CoinsUnlocked = def.TotalCoins
		seed.Ledger.CoinsAvailable = def.TotalCoins
		note := InitialPaymentNote
		seed.InitialPayment = &models.PaymentRecord{
			AmountPaid:    def.PriceAmount,
			CoinsUnlocked: def.TotalCoins,
			Note:          &note,
			CreatedAt:     now,
		}
	}
	return seed, nil
}

// Unlock is the effect of one staff-recorded payment.
type Unlock struct {
	Amount int64
	Coins  int64
}

// PlanUnlock converts a payment into unlocked coins:
// floor(amount * totalCoins / totalPriceDue), capped at what is still locked.
// The payment that settles the balance releases whatever remains so a fully
// paid ledger is always fully unlocked.
func PlanUnlock(l models.StudentLedger, amount int64) (Unlock, error) {
	if amount <= 0 {
		return Unlock{}, ErrNonPositiveAmount
	}
	remainingDue := l.TotalPriceDue - l.TotalPaid
	if amount > remainingDue {
		return Unlock{}, ErrOverpayment
	}

	locked := l.TotalCoins - l.CoinsUnlocked
	if locked < 0 {
		locked = 0
	}
	var coins int64
	switch {
	case amount == remainingDue:
		coins = locked
	case l.TotalPriceDue > 0:
		coins = amount * l.TotalCoins / l.TotalPriceDue
		if coins > locked {
			coins = locked
		}
	}
	return Unlock{Amount: amount, Coins: coins}, nil
}

// Apply returns the ledger after u.
func Apply(l models.StudentLedger, u Unlock, now time.Time) models.StudentLedger {
	l.TotalPaid += u.Amount
	l.CoinsUnlocked += u.Coins
	l.CoinsAvailable += u.Coins
	l.UpdatedAt = now
	return l
}
