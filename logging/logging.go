package logging

import (
	"io"
	"log/slog"
	"os"
)

// Verbosity maps integer solver verbosity to a slog level.
// 0 keeps only warnings, 1 adds solve summaries, 2 and above adds per-iteration output.
func Verbosity(verbose int) slog.Level {
	switch {
	case verbose <= 0:
		return slog.LevelWarn
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// New creates a text logger on w at the level implied by verbose.
func New(w io.Writer, verbose int) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: Verbosity(verbose)}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ForRank returns l tagged with the rank on rank 0 and a discarding logger elsewhere,
// so that progress output is emitted exactly once per world.
func ForRank(l *slog.Logger, rank int) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if rank != 0 {
		return Discard()
	}
	return l.With("rank", rank)
}

// OrDefault returns l, or the process default logger when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
