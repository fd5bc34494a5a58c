package db

import (
	"context"
	"database/sql"
	"fmt"
)

// ItemResult is the parsed verdict for one work item, keyed by the article
// id that was round-tripped through the remote API as the custom id.
type ItemResult struct {
	ArticleID        int64
	Caucasian        bool
	White            bool
	European         bool
	EuropeanPhrase   string
	Other            bool
	OtherPhrase      string
	PromptTokens     int
	CompletionTokens int
}

// ApplyOutcome summarizes one reconciliation pass over a batch.
type ApplyOutcome struct {
	Applied  int // items flipped from pending to processed
	Replayed int // items already processed by an earlier run
	Unknown  int // result lines with no matching work item in the batch
}

type applyStatus int

const (
	statusApplied applyStatus = iota
	statusReplayed
	statusUnknown
)

// ApplyResults writes a batch's downloaded verdicts and marks the batch
// retrieved in a single transaction, so a crash mid-way leaves the whole
// batch unretrieved and the next run starts over cleanly. Replayed lines
// and lines naming an article the batch never claimed are counted, not
// treated as errors.
func (s *Store) ApplyResults(ctx context.Context, batchID string, results []ItemResult) (ApplyOutcome, error) {
	var out ApplyOutcome

	tx, err := s.Writer.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin apply results: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		st, err := applyResultTx(ctx, tx, batchID, r)
		if err != nil {
			return ApplyOutcome{}, err
		}
		switch st {
		case statusApplied:
			out.Applied++
		case statusReplayed:
			out.Replayed++
		case statusUnknown:
			out.Unknown++
		}
	}

	if err := markRetrievedTx(ctx, tx, batchID); err != nil {
		return ApplyOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApplyOutcome{}, fmt.Errorf("commit apply results: %w", err)
	}
	return out, nil
}

func applyResultTx(ctx context.Context, tx *sql.Tx, batchID string, r ItemResult) (applyStatus, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE work_items
		SET processed = 1,
		    caucasian = ?, white = ?, european = ?, european_phrase_used = ?,
		    other = ?, other_phrase_used = ?,
		    prompt_tokens = ?, completion_tokens = ?,
		    when_processed = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE batch_id = ? AND article_id = ? AND processed = 0`,
		boolToInt(r.Caucasian), boolToInt(r.White),
		boolToInt(r.European), r.EuropeanPhrase,
		boolToInt(r.Other), r.OtherPhrase,
		r.PromptTokens, r.CompletionTokens,
		batchID, r.ArticleID)
	if err != nil {
		return 0, fmt.Errorf("apply result for article %d: %w", r.ArticleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("apply result for article %d: %w", r.ArticleID, err)
	}
	if n == 1 {
		return statusApplied, nil
	}

	// Zero rows: either the item was processed already (replay after a
	// partial fetch) or the batch never claimed this article.
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE batch_id = ? AND article_id = ?`,
		batchID, r.ArticleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("apply result for article %d: %w", r.ArticleID, err)
	}
	if count == 0 {
		return statusUnknown, nil
	}
	return statusReplayed, nil
}

// TokenTotals sums usage across processed work items, optionally narrowed
// to one batch with a non-empty batchID.
type TokenTotals struct {
	ProcessedItems   int
	PromptTokens     int64
	CompletionTokens int64
}

func (s *Store) SumTokens(ctx context.Context, batchID string) (TokenTotals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM work_items WHERE processed = 1`
	var args []any
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}

	var t TokenTotals
	if err := s.Reader.QueryRowContext(ctx, query, args...).Scan(
		&t.ProcessedItems, &t.PromptTokens, &t.CompletionTokens); err != nil {
		return TokenTotals{}, fmt.Errorf("sum tokens: %w", err)
	}
	return t, nil
}

// Totals reports ledger-wide progress for the status command.
type Totals struct {
	Articles       int
	Unsubmitted    int // articles with no work item yet
	WorkItems      int
	Processed      int
	PendingBatches int // sent but not yet retrieved
}

func (s *Store) LedgerTotals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.Reader.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM articles a
			 WHERE NOT EXISTS (SELECT 1 FROM work_items w WHERE w.article_id = a.id)),
			(SELECT COUNT(*) FROM work_items),
			(SELECT COUNT(*) FROM work_items WHERE processed = 1),
			(SELECT COUNT(*) FROM batches WHERE when_sent IS NOT NULL AND when_retrieved IS NULL)`).Scan(
		&t.Articles, &t.Unsubmitted, &t.WorkItems, &t.Processed, &t.PendingBatches)
	if err != nil {
		return Totals{}, fmt.Errorf("ledger totals: %w", err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
