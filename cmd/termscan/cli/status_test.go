package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"termscan/internal/db"

	"github.com/spf13/cobra"
)

func TestRunStatusSectionsSummarizeLedger(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")
	dbPath := filepath.Join(tmp, "termscan.db")

	seedArticles(t, dbPath, []db.Article{
		{Title: "Variant survey", Journal: "AJHG", PubYear: 2019},
		{Title: "Cohort report", Journal: "AJHG", PubYear: 2020},
		{Title: "Methods note", Journal: "Nature Genetics", PubYear: 2021},
	})
	seedBatch(t, dbPath, "batch_r1", 1, 2)
	markProcessed(t, dbPath, 1, 120, 30)

	out := runStatusWithTestConfig(t, cfg, false)

	for _, want := range []string{
		"Backlog:   3 articles · 1 unsubmitted",
		"Work:      2 items · 1 processed · 1 batches in flight",
		"Tokens:    120 prompt · 30 completion",
		"Poll in-flight batches with: termscan check",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %q", want, out)
		}
	}
	if !strings.Contains(out, "Cost:") || !strings.Contains(out, "gpt-5-mini at") {
		t.Fatalf("missing cost section in output: %q", out)
	}
}

func TestRunStatusEmptyLedgerSkipsPollHint(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")

	out := runStatusWithTestConfig(t, cfg, false)

	if !strings.Contains(out, "Backlog:   0 articles · 0 unsubmitted") {
		t.Fatalf("missing empty backlog line: %q", out)
	}
	if strings.Contains(out, "Poll in-flight batches") {
		t.Fatalf("poll hint printed with no pending batches: %q", out)
	}
}

func TestRunStatusJSONReportsLedgerCounters(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")
	dbPath := filepath.Join(tmp, "termscan.db")

	seedArticles(t, dbPath, []db.Article{
		{Title: "Variant survey", Journal: "AJHG", PubYear: 2019},
		{Title: "Cohort report", Journal: "AJHG", PubYear: 2020},
	})
	seedBatch(t, dbPath, "batch_r1", 1, 2)
	markProcessed(t, dbPath, 1, 95, 15)
	markProcessed(t, dbPath, 2, 105, 15)

	out := runStatusWithTestConfig(t, cfg, true)

	var decoded statusOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &decoded); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if decoded.Articles != 2 || decoded.Unsubmitted != 0 {
		t.Fatalf("unexpected backlog counters: %+v", decoded)
	}
	if decoded.WorkItems != 2 || decoded.Processed != 2 || decoded.PendingBatches != 1 {
		t.Fatalf("unexpected work counters: %+v", decoded)
	}
	if decoded.PromptTokens != 200 || decoded.CompletionTokens != 30 {
		t.Fatalf("unexpected token totals: %+v", decoded)
	}
	if decoded.CostUSD <= 0 {
		t.Fatalf("expected a nonzero cost for gpt-5-mini, got %v", decoded.CostUSD)
	}
}

func TestRunStatusThroughputFromStoredSnapshots(t *testing.T) {
	tmp := t.TempDir()
	cfg := writeTestConfig(t, tmp, "http://localhost:9")
	dbPath := filepath.Join(tmp, "termscan.db")

	batchID, _ := seedSentBatch(t, dbPath, "batch_r1")
	base := time.Now().UTC()
	seedSnapshot(t, dbPath, batchID, base.Add(-40*time.Minute), 10)
	seedSnapshot(t, dbPath, batchID, base.Add(-10*time.Minute), 60)

	out := runStatusWithTestConfig(t, cfg, false)

	// 50 items over 30 minutes.
	if !strings.Contains(out, "Rate:      100 items/hour") {
		t.Fatalf("missing throughput section: %q", out)
	}
}

// writeTestConfig writes a config whose paths live under dir and whose
// API endpoint is baseURL. The poll interval is shrunk so watch loops
// finish fast.
func writeTestConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	cfgFile := filepath.Join(dir, "termscan.toml")
	cfg := fmt.Sprintf(`db_path = "termscan.db"
manifest_dir = "manifests"

[api]
base_url = %q
request_timeout = "5s"

[poll]
interval = "1ms"
`, baseURL)
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgFile
}

func openLedger(t *testing.T, dbPath string) *db.Store {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedArticles(t *testing.T, dbPath string, articles []db.Article) {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if _, err := store.InsertArticles(context.Background(), articles); err != nil {
		t.Fatalf("insert articles: %v", err)
	}
}

// seedBatch wraps the given articles in a new batch. A non-empty
// remoteID stamps the batch sent.
func seedBatch(t *testing.T, dbPath, remoteID string, articleIDs ...int64) string {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	id, err := db.NewBatchID()
	if err != nil {
		t.Fatalf("new batch id: %v", err)
	}
	items := make([]db.PendingItem, 0, len(articleIDs))
	for _, articleID := range articleIDs {
		items = append(items, db.PendingItem{ArticleID: articleID})
	}
	if _, err := store.CreateBatchWithItems(ctx, id, "gpt-5-mini", items, nil); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if remoteID != "" {
		if err := store.SetRemoteJob(ctx, id, remoteID); err != nil {
			t.Fatalf("set remote job: %v", err)
		}
	}
	return id
}

// seedSentBatch inserts one fresh article, claims it in a new batch,
// and stamps the batch sent under the given remote id.
func seedSentBatch(t *testing.T, dbPath, remoteID string) (string, int64) {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	res, err := store.Writer.Exec(`INSERT INTO articles (title, journal) VALUES ('seed article', 'AJHG')`)
	if err != nil {
		t.Fatalf("seed article: %v", err)
	}
	articleID, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed article id: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	id := seedBatch(t, dbPath, remoteID, articleID)
	return id, articleID
}

func markProcessed(t *testing.T, dbPath string, articleID int64, promptTokens, completionTokens int) {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	_, err = store.Writer.Exec(
		`UPDATE work_items SET processed = 1, prompt_tokens = ?, completion_tokens = ? WHERE article_id = ?`,
		promptTokens, completionTokens, articleID)
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
}

func seedSnapshot(t *testing.T, dbPath, batchID string, at time.Time, completed int) {
	t.Helper()
	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	_, err = store.Writer.Exec(
		`INSERT INTO progress_snapshots (batch_id, when_checked, number_completed, number_failed)
		 VALUES (?, ?, ?, 0)`,
		batchID, at.UTC().Format("2006-01-02T15:04:05Z"), completed)
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func runStatusWithTestConfig(t *testing.T, configPath string, asJSON bool) string {
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
	return captureStdout(t, func() error {
		return runStatus(cmd, nil)
	})
}

func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()
	out, err := captureOutput(t, fn)
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	return out
}

// captureOutput runs fn with stdout swapped for a pipe and hands back
// both what it printed and its error, for commands whose exit code is
// part of the contract under test.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	prevStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	os.Stdout = w
	runErr := fn()
	if err := w.Close(); err != nil {
		t.Fatalf("close write pipe: %v", err)
	}
	os.Stdout = prevStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close read pipe: %v", err)
	}
	return string(out), runErr
}
