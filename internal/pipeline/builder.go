package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"termscan/internal/db"
)

// Skip reasons recorded as diagnostic events while building a batch.
const (
	skipAlreadyProcessed = "already_processed"
	skipMissingTitle     = "missing_title"
	skipMissingMetadata  = "missing_metadata"
)

// EmptyBatchError reports that candidate selection produced nothing
// worth submitting. The tallies explain where every candidate went.
type EmptyBatchError struct {
	Examined         int
	AlreadyProcessed int
	MissingTitle     int
	MissingMetadata  int
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("no articles eligible for submission (examined %d: %d already processed, %d missing title, %d missing metadata)",
		e.Examined, e.AlreadyProcessed, e.MissingTitle, e.MissingMetadata)
}

// Builder turns the article backlog into a batch manifest plus the
// ledger rows that claim the selected articles.
type Builder struct {
	Ledger      Ledger
	ManifestDir string

	// Tokens, when set, produces the prompt token estimate carried in
	// the build result. Estimation failures disable it quietly.
	Tokens TokenCounter
}

// BuildRequest selects and bounds the articles going into a new batch.
type BuildRequest struct {
	Model    string
	Journals []string // empty means all journals
	Limit    int      // max candidates examined, 0 means no cap
	MaxItems int      // max articles accepted into the batch, 0 means no cap
	DryRun   bool     // write the manifest but record nothing
}

// BuildResult describes the manifest that was written and how the
// candidate scan went. Batch is nil on dry runs.
type BuildResult struct {
	BatchID      string
	ManifestPath string
	Batch        *db.Batch

	Examined         int
	Submitted        int
	AlreadyProcessed int
	MissingTitle     int
	MissingMetadata  int

	EstimatedPromptTokens int
	Truncated             bool // stopped early because MaxItems was reached
}

type buildTotals struct {
	Examined         int `json:"examined"`
	Submitted        int `json:"submitted"`
	AlreadyProcessed int `json:"already_processed"`
	MissingTitle     int `json:"missing_title"`
	MissingMetadata  int `json:"missing_metadata"`
}

// Build scans the backlog, writes the manifest file named after the new
// batch id, and claims the accepted articles in one transaction. When
// every candidate gets skipped the manifest is removed and nothing is
// recorded; the returned EmptyBatchError carries the tallies.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	id, err := db.NewBatchID()
	if err != nil {
		return nil, err
	}

	candidates, err := b.Ledger.SelectCandidates(ctx, db.SelectParams{
		Journals: req.Journals,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, &EmptyBatchError{}
	}

	if err := os.MkdirAll(b.ManifestDir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	path := filepath.Join(b.ManifestDir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	keep := false
	defer func() {
		f.Close()
		if !keep {
			os.Remove(path)
		}
	}()

	res := &BuildResult{BatchID: id, ManifestPath: path}
	tokens := b.Tokens
	var items []db.PendingItem
	var events []db.PendingEvent

	w := bufio.NewWriter(f)
	for i, cand := range candidates {
		res.Examined++
		if i > 0 && i%100 == 0 {
			slog.Debug("building manifest", "examined", i, "accepted", len(items))
		}

		switch {
		case cand.Title == "" && cand.Abstract == "":
			res.MissingMetadata++
			events = append(events, skipEvent(cand.ID, skipMissingMetadata))
			continue
		case cand.Claimed:
			res.AlreadyProcessed++
			events = append(events, skipEvent(cand.ID, skipAlreadyProcessed))
			continue
		case cand.Title == "":
			res.MissingTitle++
			events = append(events, skipEvent(cand.ID, skipMissingTitle))
			slog.Warn("skipping article without title", "article", cand.ID)
			continue
		}

		line, err := encodeManifestLine(cand, req.Model)
		if err != nil {
			return nil, fmt.Errorf("encode request for article %d: %w", cand.ID, err)
		}
		if _, err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}

		items = append(items, db.PendingItem{
			ArticleID:   cand.ID,
			HasAbstract: cand.Abstract != "",
			PubYear:     cand.PubYear,
		})
		events = append(events, submittedEvent(cand))

		if tokens != nil {
			n, err := tokens.Count(buildPrompt(cand))
			if err != nil {
				slog.Debug("token estimate unavailable", "err", err)
				tokens = nil
			} else {
				res.EstimatedPromptTokens += n
			}
		}

		if req.MaxItems > 0 && len(items) >= req.MaxItems {
			res.Truncated = true
			break
		}
	}

	res.Submitted = len(items)
	if res.Submitted == 0 {
		return nil, &EmptyBatchError{
			Examined:         res.Examined,
			AlreadyProcessed: res.AlreadyProcessed,
			MissingTitle:     res.MissingTitle,
			MissingMetadata:  res.MissingMetadata,
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close manifest: %w", err)
	}

	events = append(events, db.PendingEvent{
		EventType: db.EventSummary,
		Details: eventDetails(struct {
			Totals buildTotals `json:"totals"`
		}{buildTotals{
			Examined:         res.Examined,
			Submitted:        res.Submitted,
			AlreadyProcessed: res.AlreadyProcessed,
			MissingTitle:     res.MissingTitle,
			MissingMetadata:  res.MissingMetadata,
		}}),
	})

	if req.DryRun {
		keep = true
		slog.Info("dry run, nothing recorded", "manifest", path, "items", res.Submitted)
		return res, nil
	}

	batch, err := b.Ledger.CreateBatchWithItems(ctx, id, req.Model, items, events)
	if err != nil {
		return nil, err
	}
	keep = true
	res.Batch = batch

	slog.Info("batch built",
		"batch", db.ShortID(id),
		"items", res.Submitted,
		"skipped", res.Examined-res.Submitted,
		"manifest", path)
	return res, nil
}

func skipEvent(articleID int64, reason string) db.PendingEvent {
	return db.PendingEvent{
		ArticleID: articleID,
		EventType: db.EventSkipped,
		Details: eventDetails(struct {
			Reason string `json:"reason"`
		}{reason}),
	}
}

func submittedEvent(a db.Candidate) db.PendingEvent {
	return db.PendingEvent{
		ArticleID: a.ID,
		EventType: db.EventSubmitted,
		Details: eventDetails(struct {
			HasAbstract bool `json:"has_abstract"`
			PubYear     int  `json:"pub_year"`
		}{a.Abstract != "", a.PubYear}),
	}
}

func eventDetails(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
