package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls the retry behavior.
type RetryConfig struct {
	Client       *http.Client // nil means http.DefaultClient
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // fraction of delay to randomize (0..1)
}

// DefaultRetryConfig returns defaults tuned for a bulk-processing API:
// slow to give up, generous ceiling for Retry-After driven waits.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    2 * time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.2,
	}
}

func (cfg RetryConfig) client() *http.Client {
	if cfg.Client != nil {
		return cfg.Client
	}
	return http.DefaultClient
}

// Do executes an HTTP request with retry/backoff. buildReq is called per
// attempt because request bodies are consumed on read and must be recreated.
//
// Retries on: network errors, HTTP 429, HTTP 5xx. A 429 or 5xx response body
// is drained before the retry sleep. Other 4xx responses fail fast and are
// returned with the body intact so callers can decode the error payload.
func Do(ctx context.Context, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	var lastErr error

	for attempt := range cfg.MaxAttempts {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := cfg.client().Do(req)
		switch {
		case err != nil:
			lastErr = err
			slog.Warn("httputil: network error",
				"attempt", attempt+1, "max", cfg.MaxAttempts, "err", err)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			delay := backoff(cfg, attempt, resp)
			resp.Body.Close()
			slog.Warn("httputil: retryable status",
				"attempt", attempt+1, "max", cfg.MaxAttempts,
				"status", resp.StatusCode, "delay", delay)
			if attempt < cfg.MaxAttempts-1 {
				if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
					return nil, sleepErr
				}
			}
			continue
		default:
			// Success or a non-retryable 4xx; either way the caller
			// gets the response with its body unread.
			return resp, nil
		}

		if attempt < cfg.MaxAttempts-1 {
			if sleepErr := sleepWithContext(ctx, backoff(cfg, attempt, nil)); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	return nil, fmt.Errorf("all %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}

// backoff computes the sleep duration for the given attempt. A Retry-After
// header on the response takes precedence over exponential backoff.
func backoff(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			return ra
		}
	}

	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	delay = math.Min(delay, float64(cfg.MaxDelay))

	// ±jitter to avoid thundering-herd resubmits after an outage.
	delay += delay * cfg.JitterFactor * (rand.Float64()*2 - 1)
	if delay < 0 {
		delay = float64(cfg.BaseDelay)
	}

	return time.Duration(delay)
}

// parseRetryAfter parses a Retry-After header value, either delta-seconds
// ("120") or an HTTP-date. Returns 0 when empty or unparseable.
func parseRetryAfter(val string) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// sleepWithContext sleeps for d but returns immediately if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
