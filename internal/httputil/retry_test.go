package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"file-1"}`)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "file-1") {
		t.Fatalf("unexpected body: %q", string(body))
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "recovered")
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, fastRetry(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if got := attempts.Load(); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, fastRetry(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected ~1s delay from Retry-After, got %v", elapsed)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("want 2 attempts, got %d", got)
	}
}

func TestDoFailsFastOnClientError(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("POST", srv.URL, nil)
	}, fastRetry(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if got := attempts.Load(); got != 1 {
		t.Fatalf("want 1 attempt (fail fast), got %d", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "invalid api key") {
		t.Fatalf("expected error body intact, got %q", string(body))
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, fastRetry(3))
	if err == nil {
		t.Fatal("expected error after max attempts exhausted")
	}
	if !strings.Contains(err.Error(), "all 3 attempts exhausted") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

func TestDoUsesConfiguredClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := fastRetry(1)
	cfg.Client = &http.Client{Timeout: 20 * time.Millisecond}

	_, err := Do(context.Background(), func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, cfg)
	if err == nil {
		t.Fatal("expected timeout from configured client")
	}
}

func TestDoContextCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{
		MaxAttempts:  10,
		BaseDelay:    5 * time.Second, // long delay so we can cancel during it
		MaxDelay:     30 * time.Second,
		JitterFactor: 0,
	}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, func() (*http.Request, error) {
			return http.NewRequest("GET", srv.URL, nil)
		}, cfg)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	err := <-done
	if err == nil {
		t.Fatal("expected context error")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Fatalf("expected context canceled, got: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		val  string
		want time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"empty", "", 0},
		{"garbage", "whenever", 0},
		{"zero", "0", 0},
		{"negative", "-10", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := parseRetryAfter(tc.val); got != tc.want {
				t.Fatalf("parseRetryAfter(%q) = %v, want %v", tc.val, got, tc.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(5 * time.Second).UTC().Format(time.RFC1123)
	if d := parseRetryAfter(future); d < 3*time.Second || d > 6*time.Second {
		t.Fatalf("expected ~5s from HTTP-date, got %v", d)
	}
}
