package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger for the API and worker
// binaries: JSON when LOG_FORMAT=json (the deployed setting), text otherwise.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
