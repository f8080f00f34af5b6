// Package log configures the process wide slog logger.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dotse/slug"
	sentryslog "github.com/getsentry/sentry-go/slog"
	slogmulti "github.com/samber/slog-multi"
)

type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

func ParseLevel(value string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(value))) {
	case Debug:
		return Debug
	case Warn:
		return Warn
	case Error:
		return Error
	default:
		return Info
	}
}

func ToSlogLevel(level Level) slog.Level {
	switch level {
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// MustCreateLogger installs the default logger. Output goes to logPath when set, otherwise stdout, and is
// additionally forwarded to sentry when enabled. The returned func closes the log file.
func MustCreateLogger(ctx context.Context, logPath string, level Level, useSentry bool, version string) func() {
	closer := func() {}

	opts := slug.HandlerOptions{
		HandlerOptions: slog.HandlerOptions{
			Level: ToSlogLevel(level),
		},
	}

	var handlers []slog.Handler
	if useSentry {
		handlers = append(handlers, sentryslog.Option{
			Level:     slog.LevelWarn,
			AddSource: true,
		}.NewSentryHandler(ctx))
	}

	if logPath != "" {
		logFile, errLogFile := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if errLogFile != nil {
			panic(fmt.Sprintf("Failed to open logfile: %v", errLogFile))
		}

		closer = func() {
			if errClose := logFile.Close(); errClose != nil {
				panic(fmt.Sprintf("Failed to close log file: %v", errClose))
			}
		}

		handlers = append(handlers, slug.NewHandler(opts, logFile))
	} else {
		handlers = append(handlers, slug.NewHandler(opts, os.Stdout))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	if version != "" {
		logger = logger.With(slog.String("release", version))
	}

	slog.SetDefault(logger)

	return closer
}

func ErrAttr(err error) slog.Attr {
	return slog.Any("reason", err)
}

func Closer(closer io.Closer) {
	if errClose := closer.Close(); errClose != nil {
		slog.Error("Failed to close", ErrAttr(errClose))
	}
}
