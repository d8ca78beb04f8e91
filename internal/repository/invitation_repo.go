package repository

import (
	"context"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

const InvitationCodeConstraint = "invitation_codes_code_key"

type InvitationRepository struct {
	db DBTX
}

func NewInvitationRepository(db DBTX) *InvitationRepository {
	return &InvitationRepository{db: db}
}

const invitationColumns = `id, code, issuer_id, package_tier, coins_granted, used, used_by_user_id, used_at, created_at`

func scanInvitation(row rowScanner) (*models.InvitationCode, error) {
	var inv models.InvitationCode
	err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.IssuerID,
		&inv.PackageTier,
		&inv.CoinsGranted,
		&inv.Used,
		&inv.UsedByUserID,
		&inv.UsedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvitationRepository) Create(
	ctx context.Context,
	code string,
	issuerID int64,
	tier string,
	coinsGranted int64,
) (*models.InvitationCode, error) {
	query := `
		INSERT INTO invitation_codes (code, issuer_id, package_tier, coins_granted, used)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING ` + invitationColumns
	return scanInvitation(r.db.QueryRow(ctx, query, code, issuerID, tier, coinsGranted))
}

func (r *InvitationRepository) GetByCode(ctx context.Context, code string) (*models.InvitationCode, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitation_codes WHERE code = $1`
	return scanInvitation(r.db.QueryRow(ctx, query, code))
}

// Redeem flips used from false to true in one statement. It returns
// pgx.ErrNoRows when the code does not exist or was already redeemed.
func (r *InvitationRepository) Redeem(ctx context.Context, code string, userID int64) (*models.InvitationCode, error) {
	query := `
		UPDATE invitation_codes
		SET used = TRUE, used_by_user_id = $2, used_at = NOW()
		WHERE code = $1 AND used = FALSE
		RETURNING ` + invitationColumns
	return scanInvitation(r.db.QueryRow(ctx, query, code, userID))
}

// List returns codes newest first; a nil issuer lists every code.
func (r *InvitationRepository) List(ctx context.Context, issuerID *int64) ([]models.InvitationCode, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitation_codes
		WHERE ($1::bigint IS NULL OR issuer_id = $1)
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, issuerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]models.InvitationCode, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *inv)
	}
	return codes, rows.Err()
}
