package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs a text handler on the default logger. verbose
// lowers the level to debug, which also turns on the request/response
// dumps in restyutil.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
