package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/entitlement"
	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StudentOverview struct {
	Ledger      models.StudentLedger    `json:"ledger"`
	Package     packages.Definition     `json:"package"`
	Entitlement entitlement.Entitlement `json:"entitlement"`
}

type UnlockResult struct {
	Ledger      models.StudentLedger    `json:"ledger"`
	Payment     models.PaymentRecord    `json:"payment"`
	Entitlement entitlement.Entitlement `json:"entitlement"`
}

type LedgerService struct {
	db       *pgxpool.Pool
	students *repository.StudentRepository
	payments *repository.PaymentRepository
	now      func() time.Time
	logger   *slog.Logger
}

func NewLedgerService(
	db *pgxpool.Pool,
	students *repository.StudentRepository,
	payments *repository.PaymentRepository,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		db:       db,
		students: students,
		payments: payments,
		now:      time.Now,
		logger:   logger,
	}
}

// CreateFromInvitation writes the opening ledger inside the caller's
// registration transaction.
func (s *LedgerService) CreateFromInvitation(
	ctx context.Context,
	tx repository.DBTX,
	inv models.InvitationCode,
	userID int64,
) (*models.StudentLedger, error) {
	seed, err := entitlement.NewLedger(inv, userID, s.now())
	if err != nil {
		if errors.Is(err, packages.ErrUnknownPackage) {
			s.logger.Error("ledger creation hit unknown package", "tier", inv.PackageTier, "code", inv.Code)
		}
		return nil, err
	}

	ledger, err := repository.NewStudentRepository(tx).Create(ctx, &seed.Ledger)
	if err != nil {
		return nil, err
	}
	if seed.InitialPayment != nil {
		issuerID := inv.IssuerID
		if _, err := repository.NewPaymentRepository(tx).Create(ctx, repository.CreatePaymentInput{
			StudentID:     ledger.ID,
			AmountPaid:    seed.InitialPayment.AmountPaid,
			CoinsUnlocked: seed.InitialPayment.CoinsUnlocked,
			Note:          seed.InitialPayment.Note,
			RecordedBy:    &issuerID,
		}); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// UnlockCoins records a staff payment and releases the matching coins in one
// transaction. Closers may only record payments for students they invited.
func (s *LedgerService) UnlockCoins(
	ctx context.Context,
	actorID int64,
	role string,
	studentID int64,
	amount int64,
	note *string,
) (*UnlockResult, error) {
	if role != models.RoleCloser && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		if trimmed == "" {
			note = nil
		} else {
			note = &trimmed
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txStudents := repository.NewStudentRepository(tx)
	txPayments := repository.NewPaymentRepository(tx)

	ledger, err := txStudents.GetByIDForUpdate(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	if !canManageStudent(actorID, role, ledger) {
		return nil, ErrForbidden
	}

	plan, err := entitlement.PlanUnlock(*ledger, amount)
	if err != nil {
		return nil, err
	}
	next := entitlement.Apply(*ledger, plan, s.now())

	updated, err := txStudents.UpdateBalances(ctx, next)
	if err != nil {
		return nil, err
	}
	payment, err := txPayments.Create(ctx, repository.CreatePaymentInput{
		StudentID:     studentID,
		AmountPaid:    plan.Amount,
		CoinsUnlocked: plan.Coins,
		Note:          note,
		RecordedBy:    &actorID,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	ent, err := entitlement.Resolve(*updated)
	if err != nil {
		return nil, err
	}
	s.logger.Info("coins unlocked",
		"student_id", studentID,
		"actor_id", actorID,
		"amount", plan.Amount,
		"coins", plan.Coins,
	)
	return &UnlockResult{Ledger: *updated, Payment: *payment, Entitlement: ent}, nil
}

// Overview computes the student's entitlement from the ledger as it is now.
func (s *LedgerService) Overview(ctx context.Context, userID int64) (*StudentOverview, error) {
	ledger, err := s.students.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	def, err := packages.Lookup(ledger.PackageTier)
	if err != nil {
		s.logger.Error("ledger references unknown package", "user_id", userID, "tier", ledger.PackageTier)
		return nil, err
	}
	ent, err := entitlement.Resolve(*ledger)
	if err != nil {
		return nil, err
	}
	return &StudentOverview{Ledger: *ledger, Package: def, Entitlement: ent}, nil
}

func (s *LedgerService) ListStudents(ctx context.Context, actorID int64, role string) ([]models.StudentSummary, error) {
	switch role {
	case models.RoleAdmin:
		return s.students.ListSummaries(ctx, nil)
	case models.RoleCloser:
		return s.students.ListSummaries(ctx, &actorID)
	default:
		return nil, ErrForbidden
	}
}

func (s *LedgerService) GetStudent(ctx context.Context, actorID int64, role string, studentID int64) (*models.StudentDetail, error) {
	if role != models.RoleCloser && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	summary, err := s.students.GetSummary(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	if !canManageStudent(actorID, role, &summary.StudentLedger) {
		return nil, ErrForbidden
	}
	payments, err := s.payments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return &models.StudentDetail{StudentSummary: *summary, Payments: payments}, nil
}

func canManageStudent(actorID int64, role string, ledger *models.StudentLedger) bool {
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleCloser:
		return ledger.IssuerID != nil && *ledger.IssuerID == actorID
	default:
		return false
	}
}
