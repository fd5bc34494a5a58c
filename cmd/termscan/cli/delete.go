package cli

import (
	"fmt"
	"log/slog"
	"os"

	"termscan/internal/db"
	"termscan/internal/safepath"

	"github.com/spf13/cobra"
)

var deleteDryRun bool

var deleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a batch and everything recorded under it",
	Long:  "Removes the batch row, its work items, snapshots, and diagnostics, plus the manifest file. Unprocessed articles return to the backlog.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteDryRun, "dry-run", false, "show what would be deleted without deleting")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveBatch(store, args[0])
	if err != nil {
		return err
	}
	batch, err := store.GetBatch(cmd.Context(), id)
	if err != nil {
		return err
	}
	deps, err := store.CountBatchDependents(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("Batch %s (%s)\n", db.ShortID(id), batch.State())
	if batch.RemoteJobID != "" {
		fmt.Printf("  Remote job:  %s\n", batch.RemoteJobID)
	}
	fmt.Printf("  Work items:  %d\n", deps.WorkItems)
	fmt.Printf("  Snapshots:   %d\n", deps.Snapshots)
	fmt.Printf("  Diagnostics: %d\n", deps.Diagnostics)

	manifest := cfg.ManifestPath(id)
	if deleteDryRun {
		fmt.Printf("\n[dry-run] would delete batch %s and release %d articles\n", db.ShortID(id), deps.WorkItems)
		if _, err := os.Stat(manifest); err == nil {
			fmt.Printf("[dry-run] would remove %s\n", manifest)
		}
		return nil
	}

	if err := store.DeleteBatch(cmd.Context(), id); err != nil {
		return err
	}
	removeManifest(cfg.ManifestDir, manifest)

	fmt.Printf("\nDeleted batch %s; %d articles returned to the backlog\n", db.ShortID(id), deps.WorkItems)
	return nil
}

// removeManifest deletes a manifest file after confirming it really
// lives under the manifest dir. The path is assembled from ledger
// state, so it gets the same traversal checks as any external input.
func removeManifest(manifestDir, manifest string) {
	resolved, err := safepath.ResolveInside(manifestDir, manifest)
	if err != nil {
		slog.Warn("manifest not removed", "path", manifest, "err", err)
		return
	}
	switch err := os.Remove(resolved); {
	case err == nil:
		fmt.Printf("Removed manifest %s\n", resolved)
	case os.IsNotExist(err):
		// Already gone, nothing to report.
	default:
		slog.Warn("manifest not removed", "path", resolved, "err", err)
	}
}
