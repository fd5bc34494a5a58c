package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"termscan/internal/batchapi"
	"termscan/internal/config"
	"termscan/internal/db"
	"termscan/internal/notify"
	"termscan/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
	jsonOut bool
	version = config.Version
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "termscan",
	Short:   "termscan - batch terminology scans over journal articles",
	Long:    "termscan selects articles from the local ledger, submits them to an OpenAI-compatible batch API for terminology analysis, and reconciles the verdicts back into the ledger.",
	Version: fmt.Sprintf("%s (%s)", version, commit),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// resolveConfigPath determines which config file to use.
// Priority: --config flag > ./termscan.toml > ~/.config/termscan/config.toml.
func resolveConfigPath() (string, error) {
	// 1. Explicit --config flag.
	if cfgPath != "" {
		return cfgPath, nil
	}

	// 2. Local termscan.toml in current directory.
	if _, err := os.Stat("termscan.toml"); err == nil {
		return "termscan.toml", nil
	}

	// 3. Global config.
	globalPath, err := config.GlobalConfigPath()
	if err == nil {
		if _, err := os.Stat(globalPath); err == nil {
			return globalPath, nil
		}
	}

	return "", fmt.Errorf("no config file found. Run 'termscan init' to set up termscan")
}

func loadConfig() (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// --verbose wins over the configured level.
	if !verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*db.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	// Clean up orphaned WAL sidecar files if the main DB was deleted.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		_ = os.Remove(cfg.DBPath + "-shm")
		_ = os.Remove(cfg.DBPath + "-wal")
	}
	return db.Open(cfg.DBPath)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newRemote(cfg *config.Config) *batchapi.Client {
	return batchapi.New(cfg.API.BaseURL, cfg.API.Key, cfg.RequestTimeout())
}

// resolveBatch resolves a full or partial batch id, or a remote job id.
func resolveBatch(store *db.Store, arg string) (string, error) {
	return store.ResolveBatchID(context.Background(), arg)
}

// announce fans a terminal batch outcome out to the configured
// notification channels. Delivery failures are logged, never returned.
func announce(ctx context.Context, cfg *config.Config, st pipeline.BatchStatus) {
	if st.Batch == nil || st.Job == nil {
		return
	}
	event := notify.EventFailed
	switch st.Phase {
	case batchapi.PhaseCompleted:
		event = notify.EventCompleted
	case batchapi.PhaseExpired:
		event = notify.EventExpired
	}
	notify.Send(ctx, cfg.Notify, notify.Payload{
		Event:       event,
		BatchID:     st.Batch.ID,
		RemoteJobID: st.Batch.RemoteJobID,
		State:       st.Phase.String(),
		Model:       st.Batch.Model,
		Completed:   st.Job.RequestCounts.Completed,
		Failed:      st.Job.RequestCounts.Failed,
		Total:       st.Job.RequestCounts.Total,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}
