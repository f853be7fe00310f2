package sources

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/spaced/internal/eventqueue"
)

// ReconcileSource fires KindReconcilePoll on a fixed interval (spec
// §4.4.4, default 3s per config.Reconcile.Interval). The actual
// reconciliation logic — re-listing top-level windows and diffing against
// the model — lives in internal/dispatcher's handler for this kind; this
// source only owns the ticker.
type ReconcileSource struct {
	queue    *eventqueue.Queue
	interval time.Duration
	logger   *slog.Logger
}

// NewReconcileSource constructs a ticker source that posts to queue every
// interval.
func NewReconcileSource(queue *eventqueue.Queue, interval time.Duration, logger *slog.Logger) *ReconcileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileSource{queue: queue, interval: interval, logger: logger}
}

// Run blocks, posting a KindReconcilePoll event every interval, until ctx
// is cancelled. Intended to run in its own goroutine from daemon startup.
func (s *ReconcileSource) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("reconcile poll started", "interval", s.interval)
	defer s.logger.Debug("reconcile poll stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.queue.Post(eventqueue.Event{Kind: eventqueue.KindReconcilePoll, Timestamp: now})
		}
	}
}
