package repository

import (
	"context"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

type HotSeatTypeRepository struct {
	db DBTX
}

func NewHotSeatTypeRepository(db DBTX) *HotSeatTypeRepository {
	return &HotSeatTypeRepository{db: db}
}

func scanHotSeatType(row rowScanner) (*models.HotSeatType, error) {
	var hst models.HotSeatType
	if err := row.Scan(&hst.ID, &hst.Name, &hst.Description, &hst.DurationMinutes, &hst.IsActive, &hst.CreatedAt); err != nil {
		return nil, err
	}
	return &hst, nil
}

func (r *HotSeatTypeRepository) Create(
	ctx context.Context,
	name string,
	description *string,
	durationMinutes int,
) (*models.HotSeatType, error) {
	query := `
		INSERT INTO hotset_types (name, description, duration_minutes, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, name, description, duration_minutes, is_active, created_at
	`
	return scanHotSeatType(r.db.QueryRow(ctx, query, name, description, durationMinutes))
}

func (r *HotSeatTypeRepository) GetByID(ctx context.Context, id int64) (*models.HotSeatType, error) {
	query := `
		SELECT id, name, description, duration_minutes, is_active, created_at
		FROM hotset_types
		WHERE id = $1
	`
	return scanHotSeatType(r.db.QueryRow(ctx, query, id))
}

func (r *HotSeatTypeRepository) List(ctx context.Context, includeInactive bool) ([]models.HotSeatType, error) {
	query := `
		SELECT id, name, description, duration_minutes, is_active, created_at
		FROM hotset_types
		WHERE $1 OR is_active
		ORDER BY name ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]models.HotSeatType, 0)
	for rows.Next() {
		hst, err := scanHotSeatType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *hst)
	}
	return types, rows.Err()
}

func (r *HotSeatTypeRepository) Deactivate(ctx context.Context, id int64) (*models.HotSeatType, error) {
	query := `
		UPDATE hotset_types
		SET is_active = FALSE
		WHERE id = $1
		RETURNING id, name, description, duration_minutes, is_active, created_at
	`
	return scanHotSeatType(r.db.QueryRow(ctx, query, id))
}
