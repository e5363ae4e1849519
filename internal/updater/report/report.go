// Package report fans update progress out to observers.
package report

import (
	"context"
	"sync"

	"github.com/autopeer-io/updater/internal/updater/core"
)

// Multi forwards every report to each reporter in order.
type Multi []core.Reporter

func (m Multi) Report(ctx context.Context, p core.Progress) {
	for _, r := range m {
		r.Report(ctx, p)
	}
}

// Tracker keeps the latest progress for readers on other goroutines.
type Tracker struct {
	mu   sync.RWMutex
	last core.Progress
	seen bool
}

var _ core.Reporter = (*Tracker)(nil)

func NewTracker() *Tracker {
	return &Tracker{last: core.Progress{Phase: core.PhaseIdle, TotalBytes: -1}}
}

func (t *Tracker) Report(_ context.Context, p core.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last, t.seen = p, true
}

// Last returns the latest progress and whether any was reported.
func (t *Tracker) Last() (core.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.seen
}
