package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var log atomic.Pointer[slog.Logger]

func init() {
	SetOutput(os.Stderr, os.Getenv("PROYEKTOR_DEBUG") == "true")
}

// SetOutput redirects log output, mainly so the display process can keep
// stdout free for the projection. It is safe while other goroutines log.
func SetOutput(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func Debug(msg string, args ...any) {
	log.Load().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	log.Load().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	log.Load().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	log.Load().Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	log.Load().Error(msg, args...)
	os.Exit(1)
}
