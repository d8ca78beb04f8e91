package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jokecross/saasmoneyV2/internal/config"
	"github.com/Jokecross/saasmoneyV2/internal/database"
	"github.com/Jokecross/saasmoneyV2/internal/logging"
	"github.com/Jokecross/saasmoneyV2/internal/routes"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New("saasmoney-api", "production").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New("saasmoney-api", cfg.AppEnv)

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		logger.Error("DB_URL is required")
		os.Exit(1)
	}
	if err := database.ConnectDB(ctx, cfg.DBUrl, logger); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB()

	// 3. Optional shared rate limit store
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, rate limiter will follow its fail mode", "error", err)
		}
		cancel()
		defer rdb.Close()
	}

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(ctx, app, cfg, database.DB, rdb, logger); err != nil {
		logger.Error("failed to register routes", "error", err)
		os.Exit(1)
	}

	// 5. Start Server
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port, "timezone", cfg.Location.String(), "ai_enabled", cfg.AIEnabled())
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("server failed to start", "error", err)
		os.Exit(1)
	}
}
