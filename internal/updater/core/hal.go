package core

import "context"

// Restarter restarts the device. On real hardware Restart does not return.
type Restarter interface {
	Restart() error
}

// Reporter receives progress of an update attempt. Implementations are
// best-effort: a reporting failure never changes the update outcome.
type Reporter interface {
	Report(ctx context.Context, p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, p Progress)

func (f ReporterFunc) Report(ctx context.Context, p Progress) { f(ctx, p) }

// NopReporter discards progress.
var NopReporter Reporter = ReporterFunc(func(context.Context, Progress) {})
