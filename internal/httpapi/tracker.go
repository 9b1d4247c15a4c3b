package httpapi

import (
	"sync"
	"time"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/service"
)

// RunTracker keeps the outcome of the most recent run. Observe matches
// service.SchedulerConfig.Observe.
type RunTracker struct {
	mu   sync.RWMutex
	snap RunSnapshot
	now  func() time.Time
}

type RunSnapshot struct {
	Runs       int
	FailedRuns int
	FinishedAt time.Time
	Report     service.RunReport
	LastErr    error
}

func NewRunTracker() *RunTracker {
	return &RunTracker{now: time.Now}
}

func (t *RunTracker) Observe(report service.RunReport, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Runs++
	if err != nil {
		t.snap.FailedRuns++
	}
	t.snap.FinishedAt = t.now()
	t.snap.Report = report
	t.snap.LastErr = err
}

func (t *RunTracker) Snapshot() RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
