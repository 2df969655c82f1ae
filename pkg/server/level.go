package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is the level of trace output, below debug.
const LevelTrace = slog.LevelDebug - 4

// ErrUnknownLevelName is returned by ParseLevel for an unknown name.
var ErrUnknownLevelName = errors.New("server: unknown log level name")

var levelNames = []struct {
	name  string
	level slog.Level
}{
	{"error", slog.LevelError},
	{"warn", slog.LevelWarn},
	{"info", slog.LevelInfo},
	{"debug", slog.LevelDebug},
	{"trace", LevelTrace},
}

// ParseLevel parses one of error, warn, info, debug or trace. Case is
// ignored.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, l := range levelNames {
		if l.name == name {
			return l.level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevelName, name)
}

// LevelName returns the name ParseLevel accepts for level. Levels between
// the named ones round down to the next lower name.
func LevelName(level slog.Level) string {
	for _, l := range levelNames {
		if level >= l.level {
			return l.name
		}
	}
	return "trace"
}

// LevelNames lists the accepted level names from most to least severe.
func LevelNames() []string {
	names := make([]string, len(levelNames))
	for i, l := range levelNames {
		names[i] = l.name
	}
	return names
}
