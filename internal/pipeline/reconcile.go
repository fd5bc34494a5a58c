package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"termscan/internal/batchapi"
	"termscan/internal/db"
)

// maxResultLine bounds a single output line. Abstracts run long, but a
// megabyte for one response means something upstream is broken.
const maxResultLine = 1 << 20

// ErrBatchNotReady signals that a batch has no results to fetch yet.
var ErrBatchNotReady = errors.New("results not ready")

// FetchReport tallies one reconciliation pass over a finished batch.
type FetchReport struct {
	Batch *db.Batch

	Applied  int // verdicts written to the ledger
	Replayed int // verdicts that were already applied by an earlier run
	Unknown  int // verdicts for articles the batch never claimed

	Failed     int // lines the remote service answered with an error status
	Malformed  int // lines that could not be decoded or failed schema validation
	ErrorLines int // lines of the remote error artifact echoed to ErrOut

	Tokens db.TokenTotals
}

// Reconciler downloads a completed batch's results and locks them into
// the ledger.
type Reconciler struct {
	Ledger Ledger
	Remote RemoteClient

	// ErrOut receives the remote error artifact line by line. Defaults
	// to os.Stderr.
	ErrOut io.Writer
}

// Fetch retrieves the batch's output, applies every parsable verdict,
// and marks the batch retrieved, all in one ledger transaction. Lines
// that are malformed or that the remote service failed are counted and
// skipped; the batch is still marked retrieved once the whole artifact
// has been scanned.
func (r *Reconciler) Fetch(ctx context.Context, batch *db.Batch) (*FetchReport, error) {
	if batch.WhenRetrieved != "" {
		return nil, fmt.Errorf("batch %s was already retrieved at %s", db.ShortID(batch.ID), batch.WhenRetrieved)
	}
	if batch.RemoteJobID == "" {
		return nil, fmt.Errorf("batch %s was never sent", db.ShortID(batch.ID))
	}

	job, err := r.Remote.GetBatch(ctx, batch.RemoteJobID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch %s: %w", db.ShortID(batch.ID), err)
	}
	phase, err := job.Phase()
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", db.ShortID(batch.ID), err)
	}
	if phase != batchapi.PhaseCompleted {
		return nil, fmt.Errorf("batch %s is %s: %w", db.ShortID(batch.ID), phase, ErrBatchNotReady)
	}

	report := &FetchReport{Batch: batch}

	if job.ErrorFileID != "" {
		n, err := r.echoErrors(ctx, job.ErrorFileID)
		if err != nil {
			return nil, err
		}
		report.ErrorLines = n
	}
	if job.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s completed without an output file", db.ShortID(batch.ID))
	}

	results, err := r.collectResults(ctx, job.OutputFileID, report)
	if err != nil {
		return nil, err
	}

	outcome, err := r.Ledger.ApplyResults(ctx, batch.ID, results)
	if err != nil {
		return nil, err
	}
	report.Applied = outcome.Applied
	report.Replayed = outcome.Replayed
	report.Unknown = outcome.Unknown

	totals, err := r.Ledger.SumTokens(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	report.Tokens = totals

	slog.Info("batch retrieved",
		"batch", db.ShortID(batch.ID),
		"applied", report.Applied,
		"failed", report.Failed,
		"malformed", report.Malformed)
	return report, nil
}

// collectResults streams the output artifact and parses each line into
// a verdict. Bad lines are tallied on the report and skipped.
func (r *Reconciler) collectResults(ctx context.Context, fileID string, report *FetchReport) ([]db.ItemResult, error) {
	body, err := r.Remote.FetchFileContent(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("download results: %w", err)
	}
	defer body.Close()

	var results []db.ItemResult
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxResultLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		res, ok, err := parseResultLine(sc.Bytes())
		if err != nil {
			report.Malformed++
			slog.Warn("skipping malformed result line", "line", lineNo, "err", err)
			continue
		}
		if !ok {
			report.Failed++
			continue
		}
		results = append(results, res)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return results, nil
}

// echoErrors copies the remote error artifact to ErrOut so per-request
// failures stay visible even though no ledger row records them.
func (r *Reconciler) echoErrors(ctx context.Context, fileID string) (int, error) {
	body, err := r.Remote.FetchFileContent(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("download error file: %w", err)
	}
	defer body.Close()

	out := r.ErrOut
	if out == nil {
		out = os.Stderr
	}

	n := 0
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxResultLine)
	for sc.Scan() {
		n++
		fmt.Fprintln(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read error file: %w", err)
	}
	return n, nil
}

// outputLine mirrors one line of the batch output artifact.
type outputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					ToolCalls []struct {
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
}

// parseResultLine decodes one output line. ok is false when the remote
// service reported a per-request failure; an error means the line
// itself could not be understood.
func parseResultLine(line []byte) (db.ItemResult, bool, error) {
	var out outputLine
	if err := json.Unmarshal(line, &out); err != nil {
		return db.ItemResult{}, false, fmt.Errorf("decode line: %w", err)
	}
	if out.Response.StatusCode != 200 {
		slog.Warn("remote request failed", "custom_id", out.CustomID, "status", out.Response.StatusCode)
		return db.ItemResult{}, false, nil
	}

	articleID, err := strconv.ParseInt(out.CustomID, 10, 64)
	if err != nil {
		return db.ItemResult{}, false, fmt.Errorf("custom id %q is not an article id", out.CustomID)
	}
	if len(out.Response.Body.Choices) == 0 {
		return db.ItemResult{}, false, fmt.Errorf("article %d: response has no choices", articleID)
	}
	calls := out.Response.Body.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return db.ItemResult{}, false, fmt.Errorf("article %d: response has no tool call", articleID)
	}
	if name := calls[0].Function.Name; name != verdictToolName {
		return db.ItemResult{}, false, fmt.Errorf("article %d: unexpected tool call %q", articleID, name)
	}

	v, err := ParseVerdict(calls[0].Function.Arguments)
	if err != nil {
		return db.ItemResult{}, false, fmt.Errorf("article %d: %w", articleID, err)
	}

	return db.ItemResult{
		ArticleID:        articleID,
		Caucasian:        v.Caucasian,
		White:            v.White,
		European:         v.European,
		EuropeanPhrase:   v.EuropeanPhraseUsed,
		Other:            v.Other,
		OtherPhrase:      v.OtherPhraseUsed,
		PromptTokens:     out.Response.Body.Usage.PromptTokens,
		CompletionTokens: out.Response.Body.Usage.CompletionTokens,
	}, true, nil
}
