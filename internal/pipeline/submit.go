package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"termscan/internal/batchapi"
	"termscan/internal/db"
)

// defaultCompletionWindow is the only turnaround the batch endpoint
// accepts today.
const defaultCompletionWindow = "24h"

// Submitter hands a built batch to the remote service: it uploads the
// manifest, opens the remote job, and stamps the batch sent.
type Submitter struct {
	Ledger Ledger
	Remote RemoteClient

	// CompletionWindow is the requested turnaround, default 24h.
	CompletionWindow string
}

// Submit sends one created batch. It refuses batches that were already
// sent, so a crashed submit can be retried without double submission.
func (s *Submitter) Submit(ctx context.Context, batch *db.Batch, manifestPath string) (*batchapi.Job, error) {
	if batch.WhenSent != "" {
		return nil, fmt.Errorf("batch %s was already sent as %s", db.ShortID(batch.ID), batch.RemoteJobID)
	}

	fileID, err := s.Remote.UploadFile(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("upload manifest for %s: %w", db.ShortID(batch.ID), err)
	}

	window := s.CompletionWindow
	if window == "" {
		window = defaultCompletionWindow
	}
	job, err := s.Remote.CreateBatch(ctx, batchapi.CreateBatchParams{
		InputFileID:      fileID,
		Endpoint:         batchapi.ChatEndpoint,
		CompletionWindow: window,
		Metadata: map[string]string{
			"description":    fmt.Sprintf("batch %s (termscan)", db.ShortID(batch.ID)),
			"local_batch_id": batch.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create remote job for %s: %w", db.ShortID(batch.ID), err)
	}

	if err := s.Ledger.SetRemoteJob(ctx, batch.ID, job.ID); err != nil {
		// The remote job now exists but the ledger does not know its id.
		return nil, fmt.Errorf("batch %s submitted as %s but recording failed: %w", db.ShortID(batch.ID), job.ID, err)
	}

	slog.Info("batch submitted",
		"batch", db.ShortID(batch.ID),
		"remote_job", job.ID,
		"items", batch.ItemCount)
	return job, nil
}
