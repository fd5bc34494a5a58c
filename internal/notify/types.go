package notify

import (
	"context"
	"fmt"
	"time"
)

// Events announced when a watched or checked batch reaches a terminal
// phase.
const (
	EventCompleted = "batch_completed"
	EventFailed    = "batch_failed"
	EventExpired   = "batch_expired"
)

type Payload struct {
	Event       string `json:"event"`
	BatchID     string `json:"batch_id"`
	RemoteJobID string `json:"remote_job_id,omitempty"`
	State       string `json:"state"`
	Model       string `json:"model,omitempty"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Total       int    `json:"total"`
	Timestamp   string `json:"timestamp"`
}

type Sender interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

type ChannelResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func EventLabel(event string) string {
	switch event {
	case EventCompleted:
		return "Batch Completed"
	case EventExpired:
		return "Batch Expired"
	default:
		return "Batch Failed"
	}
}

func TestPayload() Payload {
	now := time.Now().UTC().Format(time.RFC3339)
	return Payload{
		Event:       EventCompleted,
		BatchID:     "ts-batch-test",
		RemoteJobID: "batch_test",
		State:       "completed",
		Model:       "gpt-5-mini",
		Completed:   98,
		Failed:      2,
		Total:       100,
		Timestamp:   now,
	}
}

func SlackText(payload Payload) string {
	text := fmt.Sprintf("termscan: %s\nBatch: %s\nItems: %d/%d completed",
		EventLabel(payload.Event), payload.BatchID, payload.Completed, payload.Total)
	if payload.Failed > 0 {
		text += fmt.Sprintf(" (%d failed)", payload.Failed)
	}
	if payload.RemoteJobID != "" {
		text += "\nRemote: " + payload.RemoteJobID
	}
	return text
}
