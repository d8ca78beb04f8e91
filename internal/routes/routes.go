package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jokecross/saasmoneyV2/internal/config"
	"github.com/Jokecross/saasmoneyV2/internal/handlers"
	"github.com/Jokecross/saasmoneyV2/internal/middleware"
	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/repository"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	refundws "github.com/Jokecross/saasmoneyV2/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RegisterRoutes wires repositories, services and handlers onto app. rdb may
// be nil, in which case rate limits are kept per process.
func RegisterRoutes(
	ctx context.Context,
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *redis.Client,
	logger *slog.Logger,
) error {
	profileRepo := repository.NewProfileRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	hotSeatTypeRepo := repository.NewHotSeatTypeRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	refundConversationRepo := repository.NewRefundConversationRepository(db)
	refundMessageRepo := repository.NewRefundMessageRepository(db)

	var completer services.Completer
	if cfg.AIEnabled() {
		completer = services.NewOpenAICompletionClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.AICompletionTimeout)
	} else {
		logger.Warn("OPENAI_API_KEY not set, refund assistant will answer with the fallback message")
	}

	ledgerService := services.NewLedgerService(db, studentRepo, paymentRepo, logger)
	accountService := services.NewAccountService(db, profileRepo, invitationRepo, ledgerService, cfg.JWTSecret, logger)
	invitationService := services.NewInvitationService(invitationRepo, cfg.AppBaseURL)
	settingsService := services.NewSettingsService(settingsRepo, logger)
	slotService := services.NewSlotService(slotRepo, hotSeatTypeRepo, settingsService)
	bookingService := services.NewBookingService(db, studentRepo, slotRepo, bookingRepo, cfg.Location, logger)
	refundService := services.NewRefundService(
		db,
		refundConversationRepo,
		refundMessageRepo,
		completer,
		settingsService,
		cfg.RefundHistoryWindow,
		logger,
	)

	if err := accountService.EnsureDefaultAdmin(ctx, cfg.DefaultAdminEmail, cfg.DefaultAdminPassword, cfg.DefaultAdminName); err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}

	refundHub := refundws.NewHub(logger)
	go refundHub.Run()
	refundService.SetNotifier(refundHub)

	authHandler := handlers.NewAuthHandler(accountService, logger)
	invitationHandler := handlers.NewInvitationHandler(invitationService, logger)
	studentHandler := handlers.NewStudentHandler(ledgerService, logger)
	slotHandler := handlers.NewSlotHandler(slotService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	refundHandler := handlers.NewRefundHandler(refundService, logger)
	adminHandler := handlers.NewAdminHandler(settingsService, accountService, logger)
	refundSocketHandler := handlers.NewRefundSocketHandler(refundService, refundHub, cfg.JWTSecret)

	publicLimit := rateLimiter(rdb, cfg, "auth", logger)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", publicLimit, authHandler.Register)
	auth.Post("/login", publicLimit, authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	api.Get("/invitations/:code", rateLimiter(rdb, cfg, "invite", logger), invitationHandler.Preview)

	currentRole := middleware.CurrentRole(profileRepo)

	// The websocket route authenticates from the query string, so it is
	// registered before the header-based group below.
	api.Use("/v1/ws",
		refundSocketHandler.WebSocketAuth,
		currentRole,
		middleware.RequireRoles(models.RoleStudent, models.RoleAdmin),
	)
	api.Get("/v1/ws", websocket.New(refundSocketHandler.HandleWebSocket))

	v1 := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret), currentRole)

	staffOrAdmin := middleware.RequireRoles(models.RoleCloser, models.RoleAdmin)
	coachOrAdmin := middleware.RequireRoles(models.RoleCoach, models.RoleAdmin)
	studentOnly := middleware.RequireRoles(models.RoleStudent)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	invitations := v1.Group("/invitations", staffOrAdmin)
	invitations.Post("", invitationHandler.Generate)
	invitations.Get("", invitationHandler.List)

	students := v1.Group("/students")
	students.Get("/me", studentOnly, studentHandler.Me)
	students.Get("", staffOrAdmin, studentHandler.List)
	students.Get("/:id", staffOrAdmin, studentHandler.Get)
	students.Post("/:id/payments", staffOrAdmin, studentHandler.RecordPayment)

	slots := v1.Group("/slots")
	slots.Get("/one-of-one", slotHandler.ListOneToOne)
	slots.Post("/one-of-one", coachOrAdmin, slotHandler.CreateOneToOne)
	slots.Get("/hot-seat", slotHandler.ListHotSeat)
	slots.Post("/hot-seat", coachOrAdmin, slotHandler.CreateHotSeat)
	slots.Get("/mine", coachOrAdmin, slotHandler.ListMine)
	slots.Delete("/:kind/:id", coachOrAdmin, slotHandler.Delete)

	hotSeatTypes := v1.Group("/hot-seat-types")
	hotSeatTypes.Get("", slotHandler.ListHotSeatTypes)
	hotSeatTypes.Post("", adminOnly, slotHandler.CreateHotSeatType)
	hotSeatTypes.Delete("/:id", adminOnly, slotHandler.DeactivateHotSeatType)

	bookings := v1.Group("/bookings")
	bookings.Post("/one-of-one", studentOnly, bookingHandler.BookOneToOne)
	bookings.Post("/hot-seat", studentOnly, bookingHandler.BookHotSeat)
	bookings.Get("", bookingHandler.List)
	bookings.Put("/:kind/:id/status", coachOrAdmin, bookingHandler.UpdateStatus)

	refunds := v1.Group("/refunds")
	refunds.Get("/me", studentOnly, refundHandler.MyConversation)
	refunds.Get("/me/messages", studentOnly, refundHandler.MyMessages)
	refunds.Post("/me/messages", studentOnly, refundHandler.PostMyMessage)
	refunds.Get("", adminOnly, refundHandler.ListConversations)
	refunds.Get("/:id/messages", adminOnly, refundHandler.ConversationMessages)
	refunds.Post("/:id/accept", adminOnly, refundHandler.Accept)
	refunds.Post("/:id/refuse", adminOnly, refundHandler.Refuse)
	refunds.Post("/:id/messages", adminOnly, refundHandler.PostStaffMessage)
	refunds.Put("/:id/status", adminOnly, refundHandler.UpdateStatus)

	admin := v1.Group("/admin", adminOnly)
	admin.Get("/settings", adminHandler.GetSettings)
	admin.Put("/settings", adminHandler.UpdateSettings)
	admin.Post("/staff", adminHandler.CreateStaff)

	return nil
}

func rateLimiter(rdb *redis.Client, cfg *config.Config, prefix string, logger *slog.Logger) fiber.Handler {
	limitCfg := middleware.RateLimitConfig{
		Max:      cfg.RateLimitMax,
		Window:   cfg.RateLimitWindow,
		Prefix:   "saasmoney:rl:" + prefix,
		FailOpen: cfg.RateLimitFailOpen(),
	}
	if rdb == nil {
		return middleware.RateLimit(nil, limitCfg, logger)
	}
	return middleware.RateLimit(rdb, limitCfg, logger)
}
