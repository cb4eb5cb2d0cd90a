package queue

import (
	"context"
	"time"
)

// Logger is the minimal structured-logging interface Reaper needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Reaper periodically calls Store.ReapExpired so lease-expiry reclaim
// (spec.md §4.B "reap_expired(): ... Called by a periodic sweeper", §5
// "A job's lease expiry is the cancellation mechanism") runs on its own
// without an operator hitting POST /queue/reap-expired by hand. Grounded on
// the teacher's cmd/workflow-runner/supervisor.TimeoutDetector ticker loop.
type Reaper struct {
	store    Store
	logger   Logger
	interval time.Duration
}

func NewReaper(store Store, logger Logger) *Reaper {
	return &Reaper{store: store, logger: logger, interval: 15 * time.Second}
}

// WithInterval overrides the default sweep interval.
func (r *Reaper) WithInterval(interval time.Duration) *Reaper {
	r.interval = interval
	return r
}

// Run sweeps until ctx is canceled. Intended to be started with `go`.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.ReapExpired(ctx)
			if err != nil {
				r.logger.Error("queue reaper sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("queue reaper reclaimed expired leases", "reclaimed", n)
			}
		}
	}
}
