package logging

import (
	"log/slog"
	"os"
)

// New returns the JSON logger shared by the server components.
func New(service, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service, "env", env)
}
