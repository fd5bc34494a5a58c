package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestWebhookSenderSendsPayload(t *testing.T) {
	t.Parallel()

	var received Payload
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			defer r.Body.Close()
			if got := r.Header.Get("Content-Type"); got != "application/json" {
				t.Fatalf("expected content-type application/json, got %q", got)
			}
			if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "termscan/") {
				t.Fatalf("expected termscan user-agent, got %q", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	sender := NewWebhookSender("https://example.com/hook", client)
	payload := Payload{
		Event:       EventCompleted,
		BatchID:     "ts-batch-0a1b2c3d4e5f",
		RemoteJobID: "batch_abc123",
		State:       "completed",
		Model:       "gpt-5-mini",
		Completed:   98,
		Failed:      2,
		Total:       100,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := sender.Send(context.Background(), payload); err != nil {
		t.Fatalf("send webhook: %v", err)
	}

	if received.Event != payload.Event || received.BatchID != payload.BatchID {
		t.Fatalf("unexpected payload: %#v", received)
	}
	if received.RemoteJobID != payload.RemoteJobID {
		t.Fatalf("expected remote_job_id %q, got %q", payload.RemoteJobID, received.RemoteJobID)
	}
	if received.Completed != 98 || received.Total != 100 {
		t.Fatalf("counts did not round-trip: %#v", received)
	}
}

func TestWebhookSenderHonorsContextTimeout(t *testing.T) {
	t.Parallel()

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			<-r.Context().Done()
			return nil, r.Context().Err()
		}),
	}

	sender := NewWebhookSender("https://example.com/hook", client)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := sender.Send(ctx, TestPayload())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "send webhook request") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return fn(req)
}
