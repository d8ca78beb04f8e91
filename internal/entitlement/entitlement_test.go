package entitlement

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signup = time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

func invitation(tier string) models.InvitationCode {
	return models.InvitationCode{Code: "SM-ABCDEFGH", IssuerID: 9, PackageTier: tier}
}

func mustLedger(t *testing.T, tier string) models.StudentLedger {
	t.Helper()
	seed, err := NewLedger(invitation(tier), 42, signup)
	require.NoError(t, err)
	return seed.Ledger
}

// paidLedger is a ledger whose balance has been settled in one payment.
func paidLedger(t *testing.T, tier string) models.StudentLedger {
	t.Helper()
	l := mustLedger(t, tier)
	if l.TotalPaid == l.TotalPriceDue {
		return l
	}
	u, err := PlanUnlock(l, l.TotalPriceDue-l.TotalPaid)
	require.NoError(t, err)
	return Apply(l, u, signup)
}

func mustResolve(t *testing.T, l models.StudentLedger) Entitlement {
	t.Helper()
	e, err := Resolve(l)
	require.NoError(t, err)
	return e
}

func TestNewLedgerFullPaymentPackage(t *testing.T) {
	seed, err := NewLedger(invitation("700"), 42, signup)
	require.NoError(t, err)

	l := seed.Ledger
	assert.Equal(t, int64(700), l.TotalPriceDue)
	assert.Equal(t, int64(700), l.TotalPaid)
	assert.Zero(t, l.TotalCoins)
	assert.Zero(t, l.CoinsUnlocked)
	assert.Zero(t, l.CoinsAvailable)
	require.NotNil(t, l.HotSeatsTotalAllowed)
	assert.Equal(t, 1, *l.HotSeatsTotalAllowed)
	require.NotNil(t, l.IssuerID)
	assert.Equal(t, int64(9), *l.IssuerID)

	require.NotNil(t, seed.InitialPayment)
	assert.Equal(t, int64(700), seed.InitialPayment.AmountPaid)
	require.NotNil(t, seed.InitialPayment.Note)
	assert.Equal(t, InitialPaymentNote, *seed.InitialPayment.Note)
}

func TestNewLedgerLifetimePackageUnlocksProgressively(t *testing.T) {
	seed, err := NewLedger(invitation("15000"), 42, signup)
	require.NoError(t, err)
	l := seed.Ledger
	assert.Equal(t, int64(15000), l.TotalPriceDue)
	assert.Equal(t, int64(15000), l.TotalCoins)
	assert.Zero(t, l.TotalPaid)
	assert.Zero(t, l.CoinsUnlocked)
	assert.Zero(t, l.CoinsAvailable)
	assert.Nil(t, l.HotSeatsTotalAllowed)
	assert.Nil(t, seed.InitialPayment)

	d := CanBookOneToOne(l, mustResolve(t, l))
	assert.Equal(t, DeniedInsufficientCoins, d.Code)

	for _, amount := range []int64{5000, 5000, 5000} {
		u, err := PlanUnlock(l, amount)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), u.Coins)
		l = Apply(l, u, signup)
	}
	assert.Equal(t, int64(15000), l.CoinsUnlocked)
	assert.Equal(t, int64(15), mustResolve(t, l).OneToOne.Available)
}

func TestNewLedgerProgressivePackage(t *testing.T) {
	seed, err := NewLedger(invitation("5000"), 42, signup)
	require.NoError(t, err)
	l := seed.Ledger
	assert.Equal(t, int64(5000), l.TotalPriceDue)
	assert.Equal(t, int64(4000), l.TotalCoins)
	assert.Zero(t, l.TotalPaid)
	assert.Zero(t, l.CoinsUnlocked)
	assert.Zero(t, l.CoinsAvailable)
	assert.Equal(t, 8, l.OneToOneAllowance)
	assert.Nil(t, seed.InitialPayment)
}

func TestNewLedgerLegacyTierIsCanonicalised(t *testing.T) {
	seed, err := NewLedger(invitation("7000"), 42, signup)
	require.NoError(t, err)
	assert.Equal(t, "5000", seed.Ledger.PackageTier)
	assert.Equal(t, int64(5000), seed.Ledger.TotalPriceDue)
}

func TestNewLedgerUnknownTier(t *testing.T) {
	_, err := NewLedger(invitation("42"), 42, signup)
	assert.ErrorIs(t, err, packages.ErrUnknownPackage)
}

func TestPlanUnlockProportional(t *testing.T) {
	l := mustLedger(t, "5000")

	u, err := PlanUnlock(l, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(800), u.Coins)

	l = Apply(l, u, signup)
	assert.Equal(t, int64(1000), l.TotalPaid)
	assert.Equal(t, int64(800), l.CoinsUnlocked)
	assert.Equal(t, int64(800), l.CoinsAvailable)
	assert.Equal(t, int64(1), mustResolve(t, l).OneToOne.Unlocked)
}

func TestPlanUnlockFinalPaymentReleasesRemainder(t *testing.T) {
	l := mustLedger(t, "5000")
	for _, amount := range []int64{333, 333, 333} {
		u, err := PlanUnlock(l, amount)
		require.NoError(t, err)
		l = Apply(l, u, signup)
	}
	// floor(333*4000/5000) = 266 each
	assert.Equal(t, int64(798), l.CoinsUnlocked)

	u, err := PlanUnlock(l, l.TotalPriceDue-l.TotalPaid)
	require.NoError(t, err)
	l = Apply(l, u, signup)
	assert.Equal(t, l.TotalPriceDue, l.TotalPaid)
	assert.Equal(t, l.TotalCoins, l.CoinsUnlocked)
}

func TestPlanUnlockRejectsInvalidAmounts(t *testing.T) {
	l := mustLedger(t, "5000")

	_, err := PlanUnlock(l, 0)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
	_, err = PlanUnlock(l, -10)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
	_, err = PlanUnlock(l, 5001)
	assert.ErrorIs(t, err, ErrOverpayment)

	full := mustLedger(t, "700")
	_, err = PlanUnlock(full, 1)
	assert.ErrorIs(t, err, ErrOverpayment)
}

func TestUnlockSequencesKeepInvariants(t *testing.T) {
	sequences := [][]int64{
		{1, 1, 1, 4997},
		{2500, 2500, 1},
		{4999, 2, 1},
		{1250, 1250, 1250, 1250},
		{7, 13, 999, 4000, 5000},
	}
	for _, seq := range sequences {
		l := mustLedger(t, "5000")
		for _, amount := range seq {
			before := l
			u, err := PlanUnlock(l, amount)
			if err != nil {
				assert.ErrorIs(t, err, ErrOverpayment)
				assert.Equal(t, before, l)
				continue
			}
			l = Apply(l, u, signup)
			assert.LessOrEqual(t, l.CoinsUnlocked, l.TotalCoins)
			assert.LessOrEqual(t, l.TotalPaid, l.TotalPriceDue)
			assert.LessOrEqual(t, l.CoinsAvailable, l.CoinsUnlocked)
		}
	}
}

func TestResolveFeatures(t *testing.T) {
	e := mustResolve(t, mustLedger(t, "700"))
	assert.True(t, e.Features.Dashboard)
	assert.True(t, e.Features.Chat)
	assert.True(t, e.Features.HotSeat)
	assert.False(t, e.Features.OneToOne)
	require.NotNil(t, e.HotSeat.Remaining)
	assert.Equal(t, 1, *e.HotSeat.Remaining)

	e = mustResolve(t, mustLedger(t, "5000"))
	assert.True(t, e.Features.OneToOne)
	assert.Equal(t, packages.HotSeatWeeklyRecurring, e.HotSeat.Mode)
	require.NotNil(t, e.HotSeat.ValidUntil)
	assert.Equal(t, signup.AddDate(0, 6, 0), *e.HotSeat.ValidUntil)

	e = mustResolve(t, mustLedger(t, "15000"))
	assert.Nil(t, e.HotSeat.ValidUntil)
	assert.Zero(t, e.OneToOne.Available)
	assert.Equal(t, int64(15), mustResolve(t, paidLedger(t, "15000")).OneToOne.Available)
}

func TestResolveAvailableTracksSpend(t *testing.T) {
	l := paidLedger(t, "15000")
	require.Equal(t, int64(15), mustResolve(t, l).OneToOne.Available)

	for _, n := range []int64{1000, 500, 2500} {
		before := mustResolve(t, l).OneToOne.Available
		prevCoins := l.CoinsAvailable
		l.CoinsAvailable -= n
		after := mustResolve(t, l).OneToOne.Available
		assert.Equal(t, prevCoins/1000-l.CoinsAvailable/1000, before-after)
	}
	assert.Equal(t, int64(11), mustResolve(t, l).OneToOne.Available)
}

func TestCanBookOneToOneReasons(t *testing.T) {
	l := mustLedger(t, "700")
	d := CanBookOneToOne(l, mustResolve(t, l))
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedOneToOneNotIncluded, d.Code)

	l = mustLedger(t, "5000")
	d = CanBookOneToOne(l, mustResolve(t, l))
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedInsufficientCoins, d.Code)
	assert.Contains(t, d.Reason, "contact your closer")
	assert.Contains(t, d.Reason, "500")

	u, err := PlanUnlock(l, 1000)
	require.NoError(t, err)
	l = Apply(l, u, signup)
	assert.True(t, CanBookOneToOne(l, mustResolve(t, l)).Allowed)

	l = paidLedger(t, "15000")
	l.CoinsAvailable = 400
	d = CanBookOneToOne(l, mustResolve(t, l))
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedOneToOneConsumed, d.Code)
}

func TestCanBookHotSeatFixedTotal(t *testing.T) {
	l := mustLedger(t, "700")
	now := signup.Add(time.Hour)
	assert.True(t, CanBookHotSeat(l, mustResolve(t, l), now).Allowed)

	l.HotSeatsUsed = 1
	d := CanBookHotSeat(l, mustResolve(t, l), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedHotSeatConsumed, d.Code)
	assert.Contains(t, d.Reason, "unique Hot-Seat")

	l = mustLedger(t, "3000")
	l.HotSeatsUsed = 6
	d = CanBookHotSeat(l, mustResolve(t, l), now)
	assert.Equal(t, DeniedHotSeatConsumed, d.Code)
	assert.Contains(t, d.Reason, "6")
}

func TestCanBookHotSeatWeeklyCadence(t *testing.T) {
	l := mustLedger(t, "5000")
	wednesday := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	l.LastHotSeatBookingAt = &wednesday
	e := mustResolve(t, l)

	nextMonday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	assert.True(t, CanBookHotSeat(l, e, nextMonday).Allowed)

	nextTuesdayAfterBooking := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l.LastHotSeatBookingAt = &nextMonday
	d := CanBookHotSeat(l, e, nextTuesdayAfterBooking)
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedHotSeatWeekly, d.Code)
	assert.Contains(t, d.Reason, "this week")

	sameWeekFriday := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	l.LastHotSeatBookingAt = &wednesday
	assert.Equal(t, DeniedHotSeatWeekly, CanBookHotSeat(l, e, sameWeekFriday).Code)
}

func TestCanBookHotSeatWeekBoundary(t *testing.T) {
	l := mustLedger(t, "15000")
	sunday := time.Date(2026, 3, 8, 23, 59, 59, 0, time.UTC)
	l.LastHotSeatBookingAt = &sunday
	e := mustResolve(t, l)

	mondayMidnight := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.True(t, CanBookHotSeat(l, e, mondayMidnight).Allowed)

	l.LastHotSeatBookingAt = &mondayMidnight
	assert.False(t, CanBookHotSeat(l, e, mondayMidnight.Add(time.Minute)).Allowed)
}

func TestCanBookHotSeatWeeklyUsesCallerLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	l := mustLedger(t, "15000")
	// Sunday 23:30 UTC is already Monday 00:30 in Paris.
	last := time.Date(2026, 3, 8, 23, 30, 0, 0, time.UTC)
	l.LastHotSeatBookingAt = &last
	e := mustResolve(t, l)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, paris)
	assert.False(t, CanBookHotSeat(l, e, now).Allowed)
	assert.True(t, CanBookHotSeat(l, e, now.UTC()).Allowed)
}

func TestCanBookHotSeatExpired(t *testing.T) {
	l := mustLedger(t, "5000")
	e := mustResolve(t, l)

	d := CanBookHotSeat(l, e, signup.AddDate(0, 6, 1))
	assert.False(t, d.Allowed)
	assert.Equal(t, DeniedHotSeatExpired, d.Code)
	assert.Contains(t, d.Reason, "6 months")

	assert.True(t, CanBookHotSeat(l, e, signup.AddDate(0, 5, 27)).Allowed)

	lifetime := mustLedger(t, "15000")
	assert.True(t, CanBookHotSeat(lifetime, mustResolve(t, lifetime), signup.AddDate(10, 0, 0)).Allowed)
}

func TestStartOfWeek(t *testing.T) {
	cases := map[time.Time]time.Time{
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC):    time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 13, 5, 0, 0, time.UTC):  time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC): time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC):    time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		assert.Equal(t, want, StartOfWeek(in), in.String())
	}
}
