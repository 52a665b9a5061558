// Package logging builds the process-wide *slog.Logger. Core packages receive the logger by
// injection and never touch slog's default.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
)

// Options selects handler format and level.
type Options struct {
	// Development selects a human-readable text handler at debug level; otherwise JSON at info.
	Development bool
	// Level overrides the default level ("debug", "info", "warn", "error"). Empty keeps the default.
	Level string
	// Writer receives log lines; defaults to os.Stderr.
	Writer io.Writer
	// LoggerProvider, when set, receives every record through the otelslog bridge as well.
	LoggerProvider otellog.LoggerProvider
	// Name is the instrumentation scope used for the OTel bridge.
	Name string
}

// New returns a logger configured by opts.
func New(opts Options) (*slog.Logger, error) {
	level := slog.LevelInfo
	if opts.Development {
		level = slog.LevelDebug
	}
	if s := strings.TrimSpace(opts.Level); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", s, err)
		}
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if opts.Development {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	if opts.LoggerProvider != nil {
		name := opts.Name
		if name == "" {
			name = "manifold/backend"
		}
		h = fanout{h, otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.LoggerProvider))}
	}
	return slog.New(h), nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
