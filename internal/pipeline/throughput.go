package pipeline

import (
	"context"
	"time"

	"termscan/internal/db"
)

// batchThroughput computes one batch's completion rate from the
// snapshots recorded inside the lookback window.
func (p *Poller) batchThroughput(ctx context.Context, batchID string) (float64, error) {
	cutoff := time.Now().Add(-p.ThroughputWindow)
	snaps, err := p.Ledger.SnapshotsSince(ctx, batchID, cutoff)
	if err != nil {
		return 0, err
	}
	return CompletionRate(snaps), nil
}

// CompletionRate derives items per hour from the earliest and latest
// snapshots of one batch. A rate is only reported when both the
// completed count and the clock moved forward between them.
func CompletionRate(snaps []db.Snapshot) float64 {
	if len(snaps) < 2 {
		return 0
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	firstAt, err := first.Time()
	if err != nil {
		return 0
	}
	lastAt, err := last.Time()
	if err != nil {
		return 0
	}

	completed := last.NumberCompleted - first.NumberCompleted
	elapsed := lastAt.Sub(firstAt).Seconds()
	if completed <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(completed) * 3600 / elapsed
}
