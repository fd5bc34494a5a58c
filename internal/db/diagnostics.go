package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Diagnostic event types recorded while a batch is being built.
const (
	EventSubmitted = "submitted"
	EventSkipped   = "skipped"
	EventSummary   = "summary"
)

// PendingEvent is a diagnostic row waiting to be written with a new batch.
type PendingEvent struct {
	ArticleID int64 // 0 for batch-scoped events such as the summary
	EventType string
	Details   string // JSON object, "{}" when empty
}

// DiagnosticEvent is a stored diagnostic row.
type DiagnosticEvent struct {
	ID        int64
	BatchID   string
	ArticleID int64 // 0 when the event is batch-scoped
	EventType string
	Details   string
	CreatedAt string
}

func validateEventType(t string) error {
	switch t {
	case EventSubmitted, EventSkipped, EventSummary:
		return nil
	default:
		return fmt.Errorf("invalid diagnostic event type %q", t)
	}
}

func insertDiagnosticTx(ctx context.Context, tx *sql.Tx, batchID string, ev PendingEvent) error {
	if err := validateEventType(ev.EventType); err != nil {
		return err
	}
	details := ev.Details
	if details == "" {
		details = "{}"
	}
	var articleID any
	if ev.ArticleID != 0 {
		articleID = ev.ArticleID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO diagnostic_events (batch_id, article_id, event_type, details)
		 VALUES (?, ?, ?, ?)`,
		batchID, articleID, ev.EventType, details); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

// ListDiagnostics returns a batch's diagnostic events in insertion order,
// optionally narrowed to one event type.
func (s *Store) ListDiagnostics(ctx context.Context, batchID, eventType string) ([]DiagnosticEvent, error) {
	query := `SELECT id, batch_id, COALESCE(article_id, 0), event_type, details, created_at
		FROM diagnostic_events WHERE batch_id = ?`
	args := []any{batchID}
	if eventType != "" {
		if err := validateEventType(eventType); err != nil {
			return nil, err
		}
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics for %s: %w", batchID, err)
	}
	defer rows.Close()

	var events []DiagnosticEvent
	for rows.Next() {
		var ev DiagnosticEvent
		if err := rows.Scan(&ev.ID, &ev.BatchID, &ev.ArticleID,
			&ev.EventType, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnostic event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
