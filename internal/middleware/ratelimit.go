package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

type RateLimitConfig struct {
	Max      int
	Window   time.Duration
	Prefix   string
	FailOpen bool
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.Max <= 0 {
		c.Max = 20
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Prefix == "" {
		c.Prefix = "rl"
	}
	return c
}

// RateLimit counts requests per client IP in fixed windows. With a Redis
// client the count is shared by every instance; without one each process
// keeps its own count in memory.
func RateLimit(rdb redis.Scripter, cfg RateLimitConfig, logger *slog.Logger) fiber.Handler {
	cfg = cfg.normalized()
	if rdb == nil {
		return limiter.New(limiter.Config{
			Max:        cfg.Max,
			Expiration: cfg.Window,
			KeyGenerator: func(c *fiber.Ctx) string {
				return cfg.Prefix + ":" + c.IP()
			},
			LimitReached: tooManyRequests,
		})
	}

	return func(c *fiber.Ctx) error {
		count, err := incrWindow(c.Context(), rdb, cfg.Prefix+":"+c.IP(), cfg.Window)
		if err != nil {
			logger.Warn("redis rate limiter error", "prefix", cfg.Prefix, "error", err)
			if cfg.FailOpen {
				return c.Next()
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Rate limiter unavailable",
			})
		}
		if count > int64(cfg.Max) {
			return tooManyRequests(c)
		}
		return c.Next()
	}
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": "Too many requests, try again later",
	})
}

func incrWindow(ctx context.Context, rdb redis.Scripter, key string, window time.Duration) (int64, error) {
	res, err := fixedWindowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
