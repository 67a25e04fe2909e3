package util

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type contextKey int

const loggerKey contextKey = iota

// NewLogger returns a logfmt logger writing to w. Debug messages are dropped
// unless verbose is set.
func NewLogger(w io.Writer, verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if !verbose {
		return level.NewFilter(logger, level.AllowInfo())
	}
	return level.NewFilter(logger, level.AllowDebug())
}

func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the logger stored in ctx, or a nop logger.
func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return log.NewNopLogger()
}
