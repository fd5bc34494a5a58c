package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const batchIDPrefix = "ts-batch-"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateWorkItem is returned when a new batch would claim an
	// article that already belongs to a live batch.
	ErrDuplicateWorkItem = errors.New("article already has a live work item")
)

// Batch is one submission unit tracked by the ledger. RemoteJobID stays
// empty until the batch has been handed to the remote API, and the three
// timestamps only ever advance: created, then sent, then retrieved.
type Batch struct {
	ID            string
	RemoteJobID   string
	Model         string
	WhenCreated   string
	WhenSent      string
	WhenRetrieved string

	// Aggregates filled in by GetBatch and ListBatches.
	ItemCount      int
	ProcessedCount int
}

// State reports the lifecycle stage implied by the timestamp columns.
func (b *Batch) State() string {
	switch {
	case b.WhenRetrieved != "":
		return "retrieved"
	case b.WhenSent != "":
		return "sent"
	default:
		return "created"
	}
}

// PendingItem is one accepted candidate heading into a new batch.
type PendingItem struct {
	ArticleID   int64
	HasAbstract bool
	PubYear     int
}

// CreateBatchWithItems inserts a batch row, its work items, and any
// diagnostic events in a single transaction. The id comes from the
// caller (see NewBatchID) so the manifest file can be named before the
// batch exists. The batch claims every article listed; if another live
// batch already holds one of them, the whole transaction rolls back
// with ErrDuplicateWorkItem.
func (s *Store) CreateBatchWithItems(ctx context.Context, id, model string, items []PendingItem, events []PendingEvent) (*Batch, error) {
	if id == "" {
		return nil, errors.New("empty batch id")
	}
	if len(items) == 0 {
		return nil, errors.New("refusing to create a batch with no work items")
	}

	tx, err := s.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, model) VALUES (?, ?)`, id, model); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO work_items (batch_id, article_id, has_abstract, pub_year)
			 VALUES (?, ?, ?, ?)`,
			id, it.ArticleID, boolToInt(it.HasAbstract), it.PubYear)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return nil, fmt.Errorf("article %d: %w", it.ArticleID, ErrDuplicateWorkItem)
			}
			return nil, fmt.Errorf("insert work item for article %d: %w", it.ArticleID, err)
		}
	}
	for _, ev := range events {
		if err := insertDiagnosticTx(ctx, tx, id, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create batch: %w", err)
	}
	return s.GetBatch(ctx, id)
}

// SetRemoteJob records the remote job id and stamps when_sent. Exactly one
// unsent batch must match; anything else means the ledger and the remote
// API have diverged, and the caller must stop rather than guess.
func (s *Store) SetRemoteJob(ctx context.Context, batchID, remoteJobID string) error {
	res, err := s.Writer.ExecContext(ctx,
		`UPDATE batches
		 SET remote_job_id = ?, when_sent = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		 WHERE id = ? AND when_sent IS NULL`,
		remoteJobID, batchID)
	if err != nil {
		return fmt.Errorf("set remote job for %s: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set remote job for %s: %w", batchID, err)
	}
	if n != 1 {
		return fmt.Errorf("batch %s: marking sent affected %d rows, want 1: %w", batchID, n, ErrConsistency)
	}
	return nil
}

// markRetrievedTx stamps when_retrieved on a sent, unretrieved batch.
// Affecting any other number of rows than one is a consistency violation.
func markRetrievedTx(ctx context.Context, tx *sql.Tx, batchID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE batches
		 SET when_retrieved = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		 WHERE id = ? AND when_sent IS NOT NULL AND when_retrieved IS NULL`,
		batchID)
	if err != nil {
		return fmt.Errorf("mark %s retrieved: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s retrieved: %w", batchID, err)
	}
	if n != 1 {
		return fmt.Errorf("batch %s: marking retrieved affected %d rows, want 1: %w", batchID, n, ErrConsistency)
	}
	return nil
}

const batchSelect = `
SELECT b.id, COALESCE(b.remote_job_id, ''), COALESCE(b.model, ''),
       b.when_created, COALESCE(b.when_sent, ''), COALESCE(b.when_retrieved, ''),
       (SELECT COUNT(*) FROM work_items w WHERE w.batch_id = b.id),
       (SELECT COUNT(*) FROM work_items w WHERE w.batch_id = b.id AND w.processed = 1)
FROM batches b`

func scanBatch(row interface{ Scan(...any) error }) (*Batch, error) {
	b := &Batch{}
	err := row.Scan(&b.ID, &b.RemoteJobID, &b.Model,
		&b.WhenCreated, &b.WhenSent, &b.WhenRetrieved,
		&b.ItemCount, &b.ProcessedCount)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBatch loads a single batch with its item aggregates.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	b, err := scanBatch(s.Reader.QueryRowContext(ctx, batchSelect+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return b, nil
}

// ListPendingBatches returns batches that were sent to the remote API and
// whose results have not been retrieved yet, oldest submission first.
func (s *Store) ListPendingBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := s.Reader.QueryContext(ctx, batchSelect+`
		WHERE b.when_sent IS NOT NULL AND b.when_retrieved IS NULL
		ORDER BY b.when_sent ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListBatches returns batches newest first. With includeRetrieved false,
// only batches still in flight (created or sent) are returned.
func (s *Store) ListBatches(ctx context.Context, includeRetrieved bool) ([]*Batch, error) {
	query := batchSelect
	if !includeRetrieved {
		query += ` WHERE b.when_retrieved IS NULL`
	}
	query += ` ORDER BY b.when_created DESC, b.id DESC`

	rows, err := s.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows *sql.Rows) ([]*Batch, error) {
	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Dependents counts the rows a batch delete would cascade into.
type Dependents struct {
	WorkItems   int
	Snapshots   int
	Diagnostics int
}

func (s *Store) CountBatchDependents(ctx context.Context, batchID string) (Dependents, error) {
	var d Dependents
	err := s.Reader.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM work_items WHERE batch_id = ?1),
			(SELECT COUNT(*) FROM progress_snapshots WHERE batch_id = ?1),
			(SELECT COUNT(*) FROM diagnostic_events WHERE batch_id = ?1)`,
		batchID).Scan(&d.WorkItems, &d.Snapshots, &d.Diagnostics)
	if err != nil {
		return Dependents{}, fmt.Errorf("count dependents of %s: %w", batchID, err)
	}
	return d, nil
}

// DeleteBatch removes a batch row. Work items, progress snapshots, and
// diagnostic events cascade with it, which frees the affected articles
// for resubmission.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.Writer.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return nil
}

// ResolveBatchID expands an operator-supplied reference to a full batch id.
// Exact local ids win, then exact remote job ids, then a unique prefix of
// the local id (with or without the "ts-batch-" prefix).
func (s *Store) ResolveBatchID(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty batch id")
	}

	var id string
	err := s.Reader.QueryRowContext(ctx, `SELECT id FROM batches WHERE id = ?`, ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve batch id: %w", err)
	}

	err = s.Reader.QueryRowContext(ctx, `SELECT id FROM batches WHERE remote_job_id = ?`, ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve batch id: %w", err)
	}

	prefix := ref
	if !strings.HasPrefix(prefix, batchIDPrefix) {
		prefix = batchIDPrefix + prefix
	}
	rows, err := s.Reader.QueryContext(ctx,
		`SELECT id FROM batches WHERE id LIKE ? ORDER BY id LIMIT 2`,
		prefix+"%")
	if err != nil {
		return "", fmt.Errorf("resolve batch id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", fmt.Errorf("resolve batch id: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve batch id: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("batch %s: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("batch id %q is ambiguous, use more characters", ref)
	}
}

// ShortID returns a display-friendly fragment of a batch id.
func ShortID(id string) string {
	short := strings.TrimPrefix(id, batchIDPrefix)
	if len(short) > 8 {
		return short[:8]
	}
	return short
}

// NewBatchID returns a fresh random batch id with the local prefix.
func NewBatchID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	return batchIDPrefix + hex.EncodeToString(buf), nil
}
