package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"termscan/internal/config"
)

func TestBuildSendersSkipsUnconfiguredChannels(t *testing.T) {
	t.Parallel()

	senders := BuildSenders(config.NotifyConfig{SlackWebhook: "https://hooks.slack.com/services/T0/B0/X"}, nil)
	if len(senders) != 1 {
		t.Fatalf("expected one sender, got %d", len(senders))
	}
	if senders[0].Name() != "slack" {
		t.Fatalf("expected slack sender, got %q", senders[0].Name())
	}
}

func TestSendDeliversToEveryConfiguredChannel(t *testing.T) {
	t.Parallel()

	received := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r.URL.Path + " " + string(body)
	}))
	defer srv.Close()

	cfg := config.NotifyConfig{
		WebhookURL:   srv.URL + "/hook",
		SlackWebhook: srv.URL + "/slack",
	}
	if ok := Send(context.Background(), cfg, TestPayload()); !ok {
		t.Fatal("expected at least one successful delivery")
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(received))
	}
	for i := 0; i < 2; i++ {
		msg := <-received
		switch {
		case strings.HasPrefix(msg, "/hook "):
			if !strings.Contains(msg, `"batch_id"`) {
				t.Fatalf("webhook body missing batch_id: %q", msg)
			}
		case strings.HasPrefix(msg, "/slack "):
			if !strings.Contains(msg, "termscan") {
				t.Fatalf("slack body missing termscan text: %q", msg)
			}
		default:
			t.Fatalf("unexpected delivery: %q", msg)
		}
	}
}

func TestSendWithoutChannelsReportsNothingSent(t *testing.T) {
	t.Parallel()
	if ok := Send(context.Background(), config.NotifyConfig{}, TestPayload()); ok {
		t.Fatal("expected no delivery with an empty notify config")
	}
}

func TestSanitizeChannelErrorRedactsURLs(t *testing.T) {
	t.Parallel()
	err := errors.New(`Post "https://hooks.slack.com/services/T000/B000/SECRET": context deadline exceeded`)
	msg := sanitizeChannelError(err)
	if strings.Contains(msg, "SECRET") {
		t.Fatalf("expected webhook URL secret to be redacted, got %q", msg)
	}
	if !strings.Contains(msg, "https://hooks.slack.com/REDACTED") {
		t.Fatalf("expected redacted host marker, got %q", msg)
	}
}
