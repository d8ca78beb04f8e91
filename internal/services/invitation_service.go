package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/jackc/pgx/v5"
)

const (
	invitationPrefix   = "SM-"
	invitationLength   = 8
	invitationAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts    = 5
)

type invitationStore interface {
	Create(ctx context.Context, code string, issuerID int64, tier string, coinsGranted int64) (*models.InvitationCode, error)
	GetByCode(ctx context.Context, code string) (*models.InvitationCode, error)
	List(ctx context.Context, issuerID *int64) ([]models.InvitationCode, error)
	invitationRedeemer
}

type invitationRedeemer interface {
	Redeem(ctx context.Context, code string, userID int64) (*models.InvitationCode, error)
}

type InvitationView struct {
	models.InvitationCode
	Link    string              `json:"link"`
	Package packages.Definition `json:"package"`
}

type InvitationService struct {
	store   invitationStore
	baseURL string
}

func NewInvitationService(store invitationStore, baseURL string) *InvitationService {
	return &InvitationService{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// GenerateCode issues a fresh single-use code for tier.
func (s *InvitationService) GenerateCode(ctx context.Context, issuerID int64, role string, tier string) (*InvitationView, error) {
	if role != models.RoleCloser && role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	def, err := packages.Lookup(tier)
	if err != nil {
		if errors.Is(err, packages.ErrUnknownPackage) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewInvitationCode()
		if err != nil {
			return nil, err
		}
		inv, err := s.store.Create(ctx, code, issuerID, string(def.Tier), def.TotalCoins)
		if err != nil {
			if repository.IsUniqueViolation(err, repository.InvitationCodeConstraint) {
				continue
			}
			return nil, err
		}
		return s.view(*inv, def), nil
	}
	return nil, fmt.Errorf("generate invitation code: %w", ErrConflict)
}

// Preview looks a code up without consuming it.
func (s *InvitationService) Preview(ctx context.Context, code string) (*InvitationView, error) {
	inv, err := s.store.GetByCode(ctx, NormalizeInvitationCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	def, err := packages.Lookup(inv.PackageTier)
	if err != nil {
		return nil, err
	}
	return s.view(*inv, def), nil
}

func (s *InvitationService) RedeemCode(ctx context.Context, code string, userID int64) (bool, error) {
	_, ok, err := RedeemCode(ctx, s.store, code, userID)
	return ok, err
}

// List returns a closer's own codes, or every code for admins.
func (s *InvitationService) List(ctx context.Context, actorID int64, role string) ([]InvitationView, error) {
	var issuer *int64
	switch role {
	case models.RoleAdmin:
	case models.RoleCloser:
		issuer = &actorID
	default:
		return nil, ErrForbidden
	}

	codes, err := s.store.List(ctx, issuer)
	if err != nil {
		return nil, err
	}
	views := make([]InvitationView, 0, len(codes))
	for _, inv := range codes {
		def, err := packages.Lookup(inv.PackageTier)
		if err != nil {
			return nil, err
		}
		views = append(views, *s.view(inv, def))
	}
	return views, nil
}

func (s *InvitationService) InviteLink(code string) string {
	return s.baseURL + "/auth/register?code=" + url.QueryEscape(code)
}

func (s *InvitationService) view(inv models.InvitationCode, def packages.Definition) *InvitationView {
	return &InvitationView{InvitationCode: inv, Link: s.InviteLink(inv.Code), Package: def}
}

// RedeemCode performs the used=false to used=true transition. It returns
// false when the code was already consumed or never existed.
func RedeemCode(
	ctx context.Context,
	store invitationRedeemer,
	code string,
	userID int64,
) (*models.InvitationCode, bool, error) {
	inv, err := store.Redeem(ctx, NormalizeInvitationCode(code), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return inv, true, nil
}

func NewInvitationCode() (string, error) {
	size := big.NewInt(int64(len(invitationAlphabet)))
	var b strings.Builder
	b.WriteString(invitationPrefix)
	for i := 0; i < invitationLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate invitation code: %w", err)
		}
		b.WriteByte(invitationAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func NormalizeInvitationCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
