// Package xlog is a thin, opinionated wrapper around log/slog in the style
// of go-ethereum's log package: a terminal handler for interactive use, a
// JSON handler for everything else, and a package-level root logger that
// child loggers inherit context from via With.
package xlog

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root = slog.New(newHandler(os.Stderr))

// newHandler picks a terminal-colorized handler when stderr is a TTY and a
// plain JSON handler otherwise (redirected to a file, piped to another
// process, running under a test harness, etc).
func newHandler(w io.Writer) slog.Handler {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.NewTextHandler(colorable.NewColorable(f), &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
}

// SetOutput redirects the root logger, re-selecting the handler kind.
func SetOutput(w io.Writer) {
	root = slog.New(newHandler(w))
}

// SetLevel replaces the root logger with one writing to stderr at minimum
// level lvl; an output set earlier with SetOutput is not kept.
func SetLevel(lvl slog.Level) {
	if f, ok := any(os.Stderr).(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		root = slog.New(slog.NewTextHandler(colorable.NewColorable(f), &slog.HandlerOptions{Level: lvl}))
		return
	}
	root = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Root returns the package-level logger.
func Root() *slog.Logger { return root }

// New returns a child logger with the given key/value context attached,
// mirroring go-ethereum's log.New(ctx...).
func New(args ...interface{}) *slog.Logger { return root.With(args...) }

func Debug(msg string, args ...interface{}) { root.Debug(msg, args...) }
func Info(msg string, args ...interface{})  { root.Info(msg, args...) }
func Warn(msg string, args ...interface{})  { root.Warn(msg, args...) }
func Error(msg string, args ...interface{}) { root.Error(msg, args...) }

// Crit logs at error level and then terminates the process. Reserved for
// the invariant violations §7 calls fatal (e.g. a double commit with a
// differing ChunkRef).
func Crit(msg string, args ...interface{}) {
	root.Log(context.Background(), slog.LevelError+4, msg, args...)
	os.Exit(1)
}
