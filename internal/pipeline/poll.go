package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"termscan/internal/batchapi"
	"termscan/internal/db"
)

// ErrWatchExhausted signals that a watch gave up before the batch
// reached a terminal phase.
var ErrWatchExhausted = errors.New("poll budget exhausted")

// BatchStatus is one pending batch's state as of the latest poll.
type BatchStatus struct {
	Batch *db.Batch
	Job   *batchapi.Job
	Phase batchapi.Phase

	// Throughput is this batch's completion rate in items per hour,
	// derived from snapshots inside the poller's lookback window. Zero
	// when there is not enough history to tell.
	Throughput float64

	// Err is set when polling this batch failed; the other fields
	// besides Batch are then meaningless.
	Err error
}

// CheckReport summarizes one polling pass over all pending batches.
type CheckReport struct {
	Statuses []BatchStatus

	// Ready reports whether at least one batch has completed and is
	// waiting to be fetched.
	Ready bool

	// Throughput sums the per-batch completion rates.
	Throughput float64
}

// Poller tracks in-flight batches against the remote service.
type Poller struct {
	Ledger Ledger
	Remote RemoteClient

	// ThroughputWindow bounds how far back snapshots are read when
	// computing completion rates. Zero disables rates.
	ThroughputWindow time.Duration
}

// Poll fetches the remote state of one batch and appends a progress
// snapshot when the remote side is far enough along to report counts.
func (p *Poller) Poll(ctx context.Context, batch *db.Batch) (BatchStatus, error) {
	job, err := p.Remote.GetBatch(ctx, batch.RemoteJobID)
	if err != nil {
		return BatchStatus{}, fmt.Errorf("poll batch %s: %w", db.ShortID(batch.ID), err)
	}
	phase, err := job.Phase()
	if err != nil {
		return BatchStatus{}, fmt.Errorf("batch %s: %w", db.ShortID(batch.ID), err)
	}

	st := BatchStatus{Batch: batch, Job: job, Phase: phase}
	if phase == batchapi.PhaseInProgress || phase == batchapi.PhaseCompleted {
		if err := p.Ledger.AppendSnapshot(ctx, batch.ID, job.RequestCounts.Completed, job.RequestCounts.Failed); err != nil {
			return BatchStatus{}, err
		}
		if p.ThroughputWindow > 0 {
			rate, err := p.batchThroughput(ctx, batch.ID)
			if err != nil {
				return BatchStatus{}, err
			}
			st.Throughput = rate
		}
	}
	return st, nil
}

// CheckOnce polls every pending batch once. A batch whose poll fails is
// reported with its error and does not abort the pass.
func (p *Poller) CheckOnce(ctx context.Context) (*CheckReport, error) {
	pending, err := p.Ledger.ListPendingBatches(ctx)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{}
	for _, b := range pending {
		st, err := p.Poll(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("poll failed", "batch", db.ShortID(b.ID), "err", err)
			report.Statuses = append(report.Statuses, BatchStatus{Batch: b, Err: err})
			continue
		}
		report.Statuses = append(report.Statuses, st)
		if st.Phase == batchapi.PhaseCompleted {
			report.Ready = true
		}
		report.Throughput += st.Throughput
	}
	return report, nil
}

// WatchConfig bounds the single-batch monitor loop.
type WatchConfig struct {
	Interval time.Duration // delay between polls, default 15s
	MaxPolls int           // 0 means no cap
}

// Watch polls one batch until it reaches a terminal phase or the poll
// budget runs out. Every observation is handed to observe, if set,
// before the next sleep.
func (p *Poller) Watch(ctx context.Context, batch *db.Batch, cfg WatchConfig, observe func(BatchStatus)) (BatchStatus, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	polls := 0
	for {
		st, err := p.Poll(ctx, batch)
		if err != nil {
			return BatchStatus{}, err
		}
		if observe != nil {
			observe(st)
		}
		if st.Phase.Terminal() {
			return st, nil
		}

		polls++
		if cfg.MaxPolls > 0 && polls >= cfg.MaxPolls {
			return st, fmt.Errorf("batch %s still %s after %d polls: %w",
				db.ShortID(batch.ID), st.Phase, polls, ErrWatchExhausted)
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}
