// Package libtracker provides activity tracking for service operations.
// Services are wrapped with decorators that report each operation's start,
// outcome, and entity mutations to an ActivityTracker.
package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ActivityTracker records the lifecycle of a single service operation.
// Start returns three callbacks: reportErr for failures, reportChange for
// entity mutations, and end which must be deferred to close the span.
// kvArgs are alternating key/value pairs attached as metadata.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func())
}

// LogActivityTracker writes activity spans to a slog.Logger.
type LogActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker creates an ActivityTracker backed by the given logger.
func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	attrs := []any{
		slog.String("operation", operation),
		slog.String("subject", subject),
	}
	if reqID := RequestID(ctx); reqID != "" {
		attrs = append(attrs, slog.String("request_id", reqID))
	}
	for i := 0; i+1 < len(kvArgs); i += 2 {
		key, ok := kvArgs[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, kvArgs[i+1]))
	}

	var opErr error
	var entityID string

	reportErr := func(err error) {
		opErr = err
	}
	reportChange := func(id string, _ any) {
		entityID = id
	}
	end := func() {
		elapsed := time.Since(start)
		final := append(attrs, slog.Duration("duration", elapsed))
		if entityID != "" {
			final = append(final, slog.String("entity_id", entityID))
		}
		if opErr != nil {
			final = append(final, slog.String("error", opErr.Error()))
			t.logger.ErrorContext(ctx, "activity", final...)
			return
		}
		t.logger.DebugContext(ctx, "activity", final...)
	}

	return reportErr, reportChange, end
}

// ChainedTracker fans every span out to multiple trackers.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	reportErrFns := make([]func(error), 0, len(c))
	reportChangeFns := make([]func(string, any), 0, len(c))
	endFns := make([]func(), 0, len(c))

	for _, tracker := range c {
		reportErr, reportChange, end := tracker.Start(ctx, operation, subject, kvArgs...)
		reportErrFns = append(reportErrFns, reportErr)
		reportChangeFns = append(reportChangeFns, reportChange)
		endFns = append(endFns, end)
	}

	reportErr := func(err error) {
		for _, fn := range reportErrFns {
			fn(err)
		}
	}
	reportChange := func(id string, data any) {
		for _, fn := range reportChangeFns {
			fn(id, data)
		}
	}
	end := func() {
		for _, fn := range endFns {
			fn()
		}
	}
	return reportErr, reportChange, end
}

// NoopTracker discards all activity. Use in tests and the local CLI.
type NoopTracker struct{}

func NewNoopTracker() NoopTracker { return NoopTracker{} }

func (NoopTracker) Start(context.Context, string, string, ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

var _ ActivityTracker = (*LogActivityTracker)(nil)
var _ ActivityTracker = (ChainedTracker)(nil)
var _ ActivityTracker = NoopTracker{}
