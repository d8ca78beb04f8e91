package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/entitlement"
	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

type integrationServices struct {
	accounts    *AccountService
	ledgers     *LedgerService
	invitations *InvitationService
	bookings    *BookingService
}

func newIntegrationServices(pool *pgxpool.Pool) integrationServices {
	logger := discardLogger()
	ledgers := NewLedgerService(pool, repository.NewStudentRepository(pool), repository.NewPaymentRepository(pool), logger)
	return integrationServices{
		accounts: NewAccountService(
			pool,
			repository.NewProfileRepository(pool),
			repository.NewInvitationRepository(pool),
			ledgers,
			"integration-secret",
			logger,
		),
		ledgers:     ledgers,
		invitations: NewInvitationService(repository.NewInvitationRepository(pool), "http://localhost:3000"),
		bookings: NewBookingService(
			pool,
			repository.NewStudentRepository(pool),
			repository.NewSlotRepository(pool),
			repository.NewBookingRepository(pool),
			time.UTC,
			logger,
		),
	}
}

func TestRegisterRedeemsInvitationOnce(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	closerID := createTestProfile(t, ctx, pool, models.RoleCloser)
	var created []int64
	var createdMu sync.Mutex
	t.Cleanup(func() { cleanupTestProfiles(t, ctx, pool, append(created, closerID)...) })

	inv, err := svc.invitations.GenerateCode(ctx, closerID, models.RoleCloser, "3000")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.accounts.Register(ctx, RegisterInput{
				Email:          fmt.Sprintf("race-%d-%d@example.com", i, time.Now().UnixNano()),
				Password:       "password123",
				FullName:       "Race Student",
				InvitationCode: inv.Code,
			})
			errs[i] = err
			if err == nil {
				createdMu.Lock()
				created = append(created, result.Profile.ID)
				createdMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvitationUsed):
		default:
			t.Fatalf("unexpected Register error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one registration, got %d", wins)
	}

	var ledgers int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE issuer_id = $1`, closerID).Scan(&ledgers); err != nil {
		t.Fatalf("count students: %v", err)
	}
	if ledgers != 1 {
		t.Fatalf("expected one ledger, got %d", ledgers)
	}
}

func TestProgressivePackageUnlockFlow(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	closerID := createTestProfile(t, ctx, pool, models.RoleCloser)
	coachID := createTestProfile(t, ctx, pool, models.RoleCoach)
	inv, err := svc.invitations.GenerateCode(ctx, closerID, models.RoleCloser, "5000")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	result, err := svc.accounts.Register(ctx, RegisterInput{
		Email:          fmt.Sprintf("progressive-%d@example.com", time.Now().UnixNano()),
		Password:       "password123",
		InvitationCode: inv.Code,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	studentID := result.Profile.ID
	t.Cleanup(func() { cleanupTestProfiles(t, ctx, pool, studentID, coachID, closerID) })

	overview, err := svc.ledgers.Overview(ctx, studentID)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.Ledger.TotalCoins != 4000 || overview.Ledger.CoinsUnlocked != 0 || overview.Ledger.TotalPriceDue != 5000 {
		t.Fatalf("unexpected opening ledger: %+v", overview.Ledger)
	}

	slot, err := repository.NewSlotRepository(pool).Create(ctx, repository.CreateSlotInput{
		Kind:            models.SlotKindOneToOne,
		CoachID:         coachID,
		ScheduledAt:     time.Now().Add(72 * time.Hour).UTC(),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	_, err = svc.bookings.BookOneToOne(ctx, studentID, slot.ID)
	var denial *DenialError
	if !errors.As(err, &denial) || denial.Decision.Code != entitlement.DeniedInsufficientCoins {
		t.Fatalf("expected insufficient coins denial, got %v", err)
	}

	unlocked, err := svc.ledgers.UnlockCoins(ctx, closerID, models.RoleCloser, overview.Ledger.ID, 1000, nil)
	if err != nil {
		t.Fatalf("UnlockCoins: %v", err)
	}
	if unlocked.Ledger.CoinsUnlocked != 800 || unlocked.Entitlement.OneToOne.Unlocked != 1 {
		t.Fatalf("expected 800 coins and one session unlocked, got %+v / %+v", unlocked.Ledger, unlocked.Entitlement.OneToOne)
	}

	if _, err := svc.ledgers.UnlockCoins(ctx, closerID, models.RoleCloser, overview.Ledger.ID, 4001, nil); !errors.Is(err, entitlement.ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
	after, err := svc.ledgers.Overview(ctx, studentID)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if after.Ledger.TotalPaid != 1000 || after.Ledger.CoinsUnlocked != 800 {
		t.Fatalf("rejected payment must not change the ledger: %+v", after.Ledger)
	}

	booked, err := svc.bookings.BookOneToOne(ctx, studentID, slot.ID)
	if err != nil {
		t.Fatalf("BookOneToOne: %v", err)
	}
	if booked.CoinsSpent == nil || *booked.CoinsSpent != 500 {
		t.Fatalf("expected 500 coins spent, got %+v", booked.CoinsSpent)
	}
}

func TestUnlockCoinsRestrictsClosersToTheirStudents(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	closerID := createTestProfile(t, ctx, pool, models.RoleCloser)
	otherCloserID := createTestProfile(t, ctx, pool, models.RoleCloser)
	inv, err := svc.invitations.GenerateCode(ctx, closerID, models.RoleCloser, "3000")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	result, err := svc.accounts.Register(ctx, RegisterInput{
		Email:          fmt.Sprintf("owned-%d@example.com", time.Now().UnixNano()),
		Password:       "password123",
		InvitationCode: inv.Code,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { cleanupTestProfiles(t, ctx, pool, result.Profile.ID, closerID, otherCloserID) })

	overview, err := svc.ledgers.Overview(ctx, result.Profile.ID)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if _, err := svc.ledgers.UnlockCoins(ctx, otherCloserID, models.RoleCloser, overview.Ledger.ID, 1000, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ledgers.GetStudent(ctx, otherCloserID, models.RoleCloser, overview.Ledger.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on read, got %v", err)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func createTestProfile(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role string) int64 {
	t.Helper()

	profile := &models.Profile{
		Email:        fmt.Sprintf("ledger-test-%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash: "test-hash",
		FullName:     "Test " + role,
		Role:         role,
	}
	if err := repository.NewProfileRepository(pool).Create(ctx, profile); err != nil {
		t.Fatalf("Create profile(%s): %v", role, err)
	}
	return profile.ID
}

func cleanupTestProfiles(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ids ...int64) {
	t.Helper()

	if len(ids) == 0 {
		return
	}
	statements := []string{
		"DELETE FROM one_of_one_bookings WHERE user_id = ANY($1) OR slot_id IN (SELECT id FROM one_of_one_slots WHERE coach_id = ANY($1))",
		"DELETE FROM hotset_bookings WHERE user_id = ANY($1) OR slot_id IN (SELECT id FROM hotset_slots WHERE coach_id = ANY($1))",
		"DELETE FROM one_of_one_slots WHERE coach_id = ANY($1)",
		"DELETE FROM hotset_slots WHERE coach_id = ANY($1)",
		"DELETE FROM student_payments WHERE student_id IN (SELECT id FROM students WHERE user_id = ANY($1) OR issuer_id = ANY($1))",
		"DELETE FROM students WHERE user_id = ANY($1) OR issuer_id = ANY($1)",
		"DELETE FROM invitation_codes WHERE issuer_id = ANY($1) OR used_by_user_id = ANY($1)",
		"DELETE FROM refund_conversations WHERE user_id = ANY($1)",
		"DELETE FROM profiles WHERE id = ANY($1)",
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt, ids); err != nil {
			t.Fatalf("cleanup %q: %v", stmt, err)
		}
	}
}
