package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/Jokecross/saasmoneyV2/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RegisterInput struct {
	Email          string
	Password       string
	FullName       string
	InvitationCode string
}

type CreateStaffInput struct {
	Email    string
	Password string
	FullName string
	Role     string
}

type AuthResult struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"user"`
}

type AccountOverview struct {
	Profile *models.Profile  `json:"user"`
	Student *StudentOverview `json:"student,omitempty"`
}

// AccountService owns signup, login and staff provisioning. The role stored
// on the profile is the only source of a user's role.
type AccountService struct {
	db          *pgxpool.Pool
	profiles    *repository.ProfileRepository
	invitations *repository.InvitationRepository
	ledgers     *LedgerService
	jwtSecret   string
	logger      *slog.Logger
}

func NewAccountService(
	db *pgxpool.Pool,
	profiles *repository.ProfileRepository,
	invitations *repository.InvitationRepository,
	ledgers *LedgerService,
	jwtSecret string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		db:          db,
		profiles:    profiles,
		invitations: invitations,
		ledgers:     ledgers,
		jwtSecret:   jwtSecret,
		logger:      logger,
	}
}

// Register creates a student from an invitation code. Profile, redemption,
// ledger and opening payment commit together or not at all.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	code := NormalizeInvitationCode(input.InvitationCode)
	if code == "" {
		return nil, fmt.Errorf("%w: invitation code is required", ErrInvalidInput)
	}

	inv, err := s.invitations.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	if inv.Used {
		return nil, ErrInvitationUsed
	}
	if _, err := packages.Lookup(inv.PackageTier); err != nil {
		s.logger.Error("invitation references unknown package", "code", code, "tier", inv.PackageTier)
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	profile := &models.Profile{
		Email:        email,
		PasswordHash: hashed,
		FullName:     strings.TrimSpace(input.FullName),
		Role:         models.RoleStudent,
	}
	if err := repository.NewProfileRepository(tx).Create(ctx, profile); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	redeemed, ok, err := RedeemCode(ctx, repository.NewInvitationRepository(tx), code, profile.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvitationUsed
	}

	if _, err := s.ledgers.CreateFromInvitation(ctx, tx, *redeemed, profile.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("student registered", "user_id", profile.ID, "tier", redeemed.PackageTier, "issuer_id", redeemed.IssuerID)
	return s.issueToken(profile)
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	profile, err := s.profiles.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(password, profile.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(profile)
}

// Me reloads the profile; a failed lookup fails the request.
func (s *AccountService) Me(ctx context.Context, userID int64) (*AccountOverview, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	overview := &AccountOverview{Profile: profile}
	if profile.Role == models.RoleStudent {
		student, err := s.ledgers.Overview(ctx, userID)
		if err != nil {
			return nil, err
		}
		overview.Student = student
	}
	return overview, nil
}

func (s *AccountService) CreateStaff(ctx context.Context, role string, input CreateStaffInput) (*models.Profile, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !models.IsStaffRole(input.Role) {
		return nil, fmt.Errorf("%w: role must be coach, closer or admin", ErrInvalidInput)
	}
	return s.createProfile(ctx, input)
}

// EnsureDefaultAdmin seeds the first admin account. It is a no-op when no
// credentials are configured or the account already exists.
func (s *AccountService) EnsureDefaultAdmin(ctx context.Context, email, password, fullName string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.profiles.GetByEmail(ctx, normalized); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	profile, err := s.createProfile(ctx, CreateStaffInput{
		Email:    normalized,
		Password: password,
		FullName: fullName,
		Role:     models.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return err
	}
	s.logger.Info("default admin created", "user_id", profile.ID)
	return nil
}

func (s *AccountService) createProfile(ctx context.Context, input CreateStaffInput) (*models.Profile, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	profile := &models.Profile{
		Email:        email,
		PasswordHash: hashed,
		FullName:     strings.TrimSpace(input.FullName),
		Role:         input.Role,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return profile, nil
}

func (s *AccountService) issueToken(profile *models.Profile) (*AuthResult, error) {
	token, err := utils.GenerateToken(strconv.FormatInt(profile.ID, 10), profile.Role, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &AuthResult{Token: token, Profile: profile}, nil
}

func normalizeEmail(raw string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return strings.ToLower(parsed.Address), nil
}
