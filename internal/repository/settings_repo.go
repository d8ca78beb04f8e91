package repository

import (
	"context"

	"github.com/Jokecross/saasmoneyV2/internal/models"
)

type SettingsRepository struct {
	db DBTX
}

func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context) (*models.AppSettings, error) {
	query := `
		SELECT one_of_one_duration_minutes, refund_ai_system_prompt, updated_at
		FROM app_settings
		WHERE id = 1
	`
	var settings models.AppSettings
	if err := r.db.QueryRow(ctx, query).Scan(
		&settings.OneToOneDurationMinutes,
		&settings.RefundAISystemPrompt,
		&settings.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *SettingsRepository) Update(ctx context.Context, settings models.AppSettings) (*models.AppSettings, error) {
	query := `
		INSERT INTO app_settings (id, one_of_one_duration_minutes, refund_ai_system_prompt, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET one_of_one_duration_minutes = EXCLUDED.one_of_one_duration_minutes,
		    refund_ai_system_prompt = EXCLUDED.refund_ai_system_prompt,
		    updated_at = NOW()
		RETURNING one_of_one_duration_minutes, refund_ai_system_prompt, updated_at
	`
	var updated models.AppSettings
	if err := r.db.QueryRow(ctx, query, settings.OneToOneDurationMinutes, settings.RefundAISystemPrompt).Scan(
		&updated.OneToOneDurationMinutes,
		&updated.RefundAISystemPrompt,
		&updated.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &updated, nil
}
