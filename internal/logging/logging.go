// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lepinkainen/humanlog"
)

// New builds a logger writing to w. Format "json" selects slog's JSON
// handler, anything else the human readable one.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = humanlog.NewHandler(w, &humanlog.Options{Level: lvl})
	}

	return slog.New(handler), nil
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}
