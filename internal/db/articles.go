package db

import (
	"context"
	"fmt"
	"strings"
)

// Article is one source record from the bibliographic import.
type Article struct {
	ID       int64
	DOI      string
	Title    string
	Abstract string
	Journal  string
	PubYear  int
}

// Candidate is an article under consideration for submission, annotated
// with whether a live batch already claims it.
type Candidate struct {
	Article
	Claimed bool
}

// SelectParams narrows candidate selection. An empty journal list matches
// every journal. Limit caps how many articles are examined, zero meaning
// no cap.
type SelectParams struct {
	Journals []string
	Limit    int
}

// SelectCandidates returns articles matching the filter in id order. The
// Claimed flag is resolved in the same query so callers can record skips
// without a per-article lookup.
func (s *Store) SelectCandidates(ctx context.Context, p SelectParams) ([]Candidate, error) {
	query := `SELECT a.id, COALESCE(a.doi, ''), a.title, a.abstract, a.journal, a.pub_year,
		EXISTS (SELECT 1 FROM work_items w WHERE w.article_id = a.id)
		FROM articles a`
	var args []any
	if len(p.Journals) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(p.Journals)), ",")
		query += ` WHERE a.journal IN (` + marks + `)`
		for _, j := range p.Journals {
			args = append(args, j)
		}
	}
	query += ` ORDER BY a.id ASC`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var claimed int
		if err := rows.Scan(&c.ID, &c.DOI, &c.Title, &c.Abstract,
			&c.Journal, &c.PubYear, &claimed); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Claimed = claimed == 1
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// InsertArticles loads imported rows, skipping DOIs already present.
// Empty DOIs are stored as NULL so they never collide with each other.
// Returns how many rows were actually inserted.
func (s *Store) InsertArticles(ctx context.Context, articles []Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert articles: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO articles (doi, title, abstract, journal, pub_year)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert articles: %w", err)
	}
	defer stmt.Close()

	var inserted int
	for _, a := range articles {
		var doi any
		if a.DOI != "" {
			doi = a.DOI
		}
		res, err := stmt.ExecContext(ctx, doi, a.Title, a.Abstract, a.Journal, a.PubYear)
		if err != nil {
			return 0, fmt.Errorf("insert article %q: %w", a.DOI, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert article %q: %w", a.DOI, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert articles: %w", err)
	}
	return inserted, nil
}
