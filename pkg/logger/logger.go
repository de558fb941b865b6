package logger

import (
	"log"
	"log/slog"
)

// Component scopes base to a named component.
func Component(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", component)
}

// Std returns a stdlib logger that writes through base at the error level, for
// libraries such as net/http that only accept *log.Logger.
func Std(base *slog.Logger, component string) *log.Logger {
	return slog.NewLogLogger(Component(base, component).Handler(), slog.LevelError)
}
