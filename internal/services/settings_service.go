package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/jackc/pgx/v5"
)

const (
	DefaultOneToOneDurationMinutes = 30

	DefaultRefundSystemPrompt = "You are the support assistant of a coaching programme. " +
		"The student asked for a refund and the team declined it. Answer politely and briefly, " +
		"explain that the request cannot be granted, and help the student get the most out of " +
		"the sessions and coins still available to them. Never promise a refund."
)

type settingsStore interface {
	Get(ctx context.Context) (*models.AppSettings, error)
	Update(ctx context.Context, settings models.AppSettings) (*models.AppSettings, error)
}

type UpdateSettingsInput struct {
	OneToOneDurationMinutes *int
	RefundAISystemPrompt    *string
}

type SettingsService struct {
	store  settingsStore
	logger *slog.Logger
}

func NewSettingsService(store settingsStore, logger *slog.Logger) *SettingsService {
	return &SettingsService{store: store, logger: logger}
}

// Get returns the stored settings, falling back to defaults when the row is
// missing.
func (s *SettingsService) Get(ctx context.Context) (*models.AppSettings, error) {
	settings, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.AppSettings{OneToOneDurationMinutes: DefaultOneToOneDurationMinutes}, nil
		}
		return nil, err
	}
	if settings.OneToOneDurationMinutes <= 0 {
		settings.OneToOneDurationMinutes = DefaultOneToOneDurationMinutes
	}
	return settings, nil
}

func (s *SettingsService) Update(ctx context.Context, role string, input UpdateSettingsInput) (*models.AppSettings, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	next := *current
	if input.OneToOneDurationMinutes != nil {
		if *input.OneToOneDurationMinutes <= 0 || *input.OneToOneDurationMinutes > 240 {
			return nil, fmt.Errorf("%w: duration must be between 1 and 240 minutes", ErrInvalidInput)
		}
		next.OneToOneDurationMinutes = *input.OneToOneDurationMinutes
	}
	if input.RefundAISystemPrompt != nil {
		prompt := strings.TrimSpace(*input.RefundAISystemPrompt)
		if prompt == "" {
			next.RefundAISystemPrompt = nil
		} else {
			next.RefundAISystemPrompt = &prompt
		}
	}
	return s.store.Update(ctx, next)
}

// RefundPrompt is the system prompt used for refund completions.
func (s *SettingsService) RefundPrompt(ctx context.Context) string {
	settings, err := s.Get(ctx)
	if err != nil {
		s.logger.Error("refund prompt lookup failed, using default prompt", "error", err)
		return DefaultRefundSystemPrompt
	}
	if settings.RefundAISystemPrompt == nil {
		return DefaultRefundSystemPrompt
	}
	return *settings.RefundAISystemPrompt
}
