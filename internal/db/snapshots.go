package db

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one observed progress reading for a sent batch. Snapshots
// are append-only; throughput math reads them back by time window.
type Snapshot struct {
	ID              int64
	BatchID         string
	WhenChecked     string
	NumberCompleted int
	NumberFailed    int
}

// Time parses the stored UTC timestamp.
func (sn Snapshot) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, sn.WhenChecked)
}

// AppendSnapshot records the remote progress counters as observed now.
func (s *Store) AppendSnapshot(ctx context.Context, batchID string, completed, failed int) error {
	_, err := s.Writer.ExecContext(ctx,
		`INSERT INTO progress_snapshots (batch_id, number_completed, number_failed)
		 VALUES (?, ?, ?)`,
		batchID, completed, failed)
	if err != nil {
		return fmt.Errorf("append snapshot for %s: %w", batchID, err)
	}
	return nil
}

// SnapshotsSince returns a batch's snapshots taken at or after cutoff,
// oldest first. The stored format sorts lexicographically, so a zero
// cutoff returns everything.
func (s *Store) SnapshotsSince(ctx context.Context, batchID string, cutoff time.Time) ([]Snapshot, error) {
	rows, err := s.Reader.QueryContext(ctx, `
		SELECT id, batch_id, when_checked, number_completed, number_failed
		FROM progress_snapshots
		WHERE batch_id = ? AND when_checked >= ?
		ORDER BY id ASC`,
		batchID, cutoff.UTC().Format("2006-01-02T15:04:05Z"))
	if err != nil {
		return nil, fmt.Errorf("snapshots for %s: %w", batchID, err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.ID, &sn.BatchID, &sn.WhenChecked,
			&sn.NumberCompleted, &sn.NumberFailed); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}
