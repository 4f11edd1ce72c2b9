package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init configures the global logger. Level is one of debug|info|warn|error,
// format is "json" or "text".
func Init(level, format string) {
	once.Do(func() {
		log = newLogger(level, format)
	})
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func get() *slog.Logger {
	if log == nil {
		Init("info", "json")
	}
	return log
}

func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// AsynqLogger routes asynq's internal logging through the global logger.
type AsynqLogger struct{}

func Asynq() AsynqLogger { return AsynqLogger{} }

func (AsynqLogger) Debug(args ...any) { get().Debug(fmt.Sprint(args...)) }
func (AsynqLogger) Info(args ...any)  { get().Info(fmt.Sprint(args...)) }
func (AsynqLogger) Warn(args ...any)  { get().Warn(fmt.Sprint(args...)) }
func (AsynqLogger) Error(args ...any) { get().Error(fmt.Sprint(args...)) }
func (AsynqLogger) Fatal(args ...any) {
	get().Error(fmt.Sprint(args...))
	os.Exit(1)
}
