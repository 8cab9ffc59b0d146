package config

import (
	"fmt"
	"io"
	"log/slog"
)

// ParseLevel maps a configured level name ("debug", "info", "warn", "error",
// optionally with an offset such as "debug+2") onto a slog level. The empty
// name is info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Handler builds the slog handler the run writes through. The format is "text"
// (the default) or "json".
func (l Log) Handler(w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	}
	return nil, fmt.Errorf("log format %q is neither text nor json", l.Format)
}

// NewLogger creates the run logger writing to w. It does not set the global
// logger.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	h, err := l.Handler(w)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// RankLogger tags logger with the solver group and the rank inside it, the
// attributes every line from one rank of a coupled run carries.
func RankLogger(logger *slog.Logger, group string, rank, worldRank int) *slog.Logger {
	return logger.With(slog.Group("proc",
		slog.String("group", group),
		slog.Int("rank", rank),
		slog.Int("world", worldRank),
	))
}
