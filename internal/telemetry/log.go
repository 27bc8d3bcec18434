package telemetry

import (
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// SetupLogger installs the default slog logger. Format is one of "tint", "json" or "text".
func SetupLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		h = tint.NewHandler(w, &tint.Options{Level: lvl, AddSource: lvl <= slog.LevelDebug})
	}

	l := slog.New(h)
	slog.SetDefault(l)
	return l
}
