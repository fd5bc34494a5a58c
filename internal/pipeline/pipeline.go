// Package pipeline drives the batch lifecycle: building manifests from
// the article backlog, submitting them to the remote batch service,
// polling progress, and reconciling finished results into the ledger.
package pipeline

import (
	"context"
	"io"
	"time"

	"termscan/internal/batchapi"
	"termscan/internal/db"
)

// Ledger is the slice of the store the pipeline needs. *db.Store
// satisfies it; tests substitute in-memory fakes.
type Ledger interface {
	SelectCandidates(ctx context.Context, p db.SelectParams) ([]db.Candidate, error)
	CreateBatchWithItems(ctx context.Context, id, model string, items []db.PendingItem, events []db.PendingEvent) (*db.Batch, error)
	SetRemoteJob(ctx context.Context, batchID, remoteJobID string) error
	GetBatch(ctx context.Context, id string) (*db.Batch, error)
	ListPendingBatches(ctx context.Context) ([]*db.Batch, error)
	AppendSnapshot(ctx context.Context, batchID string, completed, failed int) error
	SnapshotsSince(ctx context.Context, batchID string, cutoff time.Time) ([]db.Snapshot, error)
	ApplyResults(ctx context.Context, batchID string, results []db.ItemResult) (db.ApplyOutcome, error)
	SumTokens(ctx context.Context, batchID string) (db.TokenTotals, error)
}

// RemoteClient is the slice of the batch service the pipeline talks to.
// *batchapi.Client satisfies it.
type RemoteClient interface {
	UploadFile(ctx context.Context, path string) (string, error)
	CreateBatch(ctx context.Context, p batchapi.CreateBatchParams) (*batchapi.Job, error)
	GetBatch(ctx context.Context, remoteID string) (*batchapi.Job, error)
	FetchFileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
}
