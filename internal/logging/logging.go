// Package logging builds the application logger. Every component receives
// its logger through its constructor; there is no package-level default.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to stdout. Debug level is enabled for
// the dev environment, info otherwise.
func New(environment string) *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(environment, "dev") {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
