package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"termscan/internal/batchapi"
	"termscan/internal/db"

	"github.com/spf13/cobra"
)

func TestRunCheckNoBatchesInFlight(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")

	out, err := runCheckWithTestConfig(t, cfg, false)
	if !errors.Is(err, errNothingReady) {
		t.Fatalf("expected errNothingReady, got %v", err)
	}
	if !strings.Contains(out, "No batches in flight. Run 'termscan submit' to create one.") {
		t.Fatalf("missing submit hint in output: %q", out)
	}
}

func TestRunCheckSingleBatchRejectsUnsentBatch(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")
	dbPath := filepath.Join(tmp, "termscan.db")

	seedArticles(t, dbPath, []db.Article{
		{Title: "Variant survey", Journal: "AJHG", PubYear: 2019},
	})
	batchID := seedBatch(t, dbPath, "", 1)

	prevBatch := checkBatch
	checkBatch = batchID
	t.Cleanup(func() { checkBatch = prevBatch })

	_, err := runCheckWithTestConfig(t, cfg, false)
	if err == nil || !strings.Contains(err.Error(), "only sent batches can be checked") {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestRunCheckPrintsRemoteErrors(t *testing.T) {
	tmp := t.TempDir()
	fake := newFakeBatchService(t)
	cfg := writeTestConfig(t, tmp, fake.URL())
	dbPath := filepath.Join(tmp, "termscan.db")

	seedSentBatch(t, dbPath, "batch_fake1")
	line := 3
	fake.script("batch_fake1",
		failedJob(batchapi.JobError{Code: "invalid_request", Message: "missing custom_id", Line: &line}))

	out, err := runCheckWithTestConfig(t, cfg, false)
	if !errors.Is(err, errNothingReady) {
		t.Fatalf("a failed batch is not ready, got %v", err)
	}
	if !strings.Contains(out, "failed") {
		t.Fatalf("missing failed phase in output: %q", out)
	}
	if !strings.Contains(out, "    invalid_request line 3: missing custom_id") {
		t.Fatalf("missing remote error line in output: %q", out)
	}
}

func TestRunCheckJSONMarksReadyBatch(t *testing.T) {
	tmp := t.TempDir()
	fake := newFakeBatchService(t)
	cfg := writeTestConfig(t, tmp, fake.URL())
	dbPath := filepath.Join(tmp, "termscan.db")

	batchID, _ := seedSentBatch(t, dbPath, "batch_fake1")
	fake.script("batch_fake1", completedJob(1, "file-out"))

	out, err := runCheckWithTestConfig(t, cfg, true)
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	var decoded checkOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &decoded); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !decoded.Ready {
		t.Fatal("expected ready=true")
	}
	if len(decoded.Batches) != 1 {
		t.Fatalf("expected 1 batch row, got %d", len(decoded.Batches))
	}
	row := decoded.Batches[0]
	if row.Batch != batchID || row.Phase != "completed" || row.Completed != 1 || row.Total != 1 {
		t.Fatalf("unexpected batch row: %+v", row)
	}
}

func TestRunCheckJSONStillExitsNonzeroWhileRunning(t *testing.T) {
	tmp := t.TempDir()
	fake := newFakeBatchService(t)
	cfg := writeTestConfig(t, tmp, fake.URL())
	dbPath := filepath.Join(tmp, "termscan.db")

	seedSentBatch(t, dbPath, "batch_fake1")
	fake.script("batch_fake1", runningJob(0, 1))

	out, err := runCheckWithTestConfig(t, cfg, true)
	if !errors.Is(err, errNothingReady) {
		t.Fatalf("expected errNothingReady, got %v", err)
	}

	var decoded checkOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &decoded); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if decoded.Ready {
		t.Fatal("expected ready=false")
	}
}

func TestRunCheckAnnouncesCompletedBatch(t *testing.T) {
	tmp := t.TempDir()
	fake := newFakeBatchService(t)

	var mu sync.Mutex
	var payloads []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		payloads = append(payloads, string(body))
		mu.Unlock()
	}))
	t.Cleanup(hook.Close)

	cfgFile := filepath.Join(tmp, "termscan.toml")
	cfg := fmt.Sprintf(`db_path = "termscan.db"
manifest_dir = "manifests"

[api]
base_url = %q
request_timeout = "5s"

[notify]
webhook_url = %q
`, fake.URL(), hook.URL)
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	dbPath := filepath.Join(tmp, "termscan.db")

	batchID, _ := seedSentBatch(t, dbPath, "batch_fake1")
	fake.script("batch_fake1", completedJob(1, "file-out"))

	if _, err := runCheckWithTestConfig(t, cfgFile, false); err != nil {
		t.Fatalf("check: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", len(payloads))
	}
	if !strings.Contains(payloads[0], `"event":"batch_completed"`) || !strings.Contains(payloads[0], batchID) {
		t.Fatalf("unexpected webhook payload: %q", payloads[0])
	}
}

func runCheckWithTestConfig(t *testing.T, configPath string, asJSON bool) (string, error) {
	t.Helper()
	prevCfgPath := cfgPath
	prevJSON := jsonOut
	cfgPath = configPath
	jsonOut = asJSON
	t.Cleanup(func() {
		cfgPath = prevCfgPath
		jsonOut = prevJSON
	})

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return captureOutput(t, func() error {
		return runCheck(cmd, nil)
	})
}
