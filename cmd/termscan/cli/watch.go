package cli

import (
	"fmt"
	"os"
	"time"

	"termscan/internal/batchapi"
	"termscan/internal/db"
	"termscan/internal/pipeline"
	"termscan/internal/tui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	watchInterval time.Duration
	watchPlain    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <batch-id>",
	Short: "Monitor one batch until it finishes",
	Long:  "Polls a single batch on an interval with a live progress display. Falls back to plain line output when stdout is not a terminal or with --plain.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "plain line output instead of the live display")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	if state := batch.State(); state != "sent" {
		return fmt.Errorf("batch %s is %s; only sent batches can be watched", db.ShortID(id), state)
	}

	poller := &pipeline.Poller{
		Ledger:           store,
		Remote:           newRemote(cfg),
		ThroughputWindow: cfg.ThroughputWindow(),
	}
	interval := watchInterval
	if interval <= 0 {
		interval = cfg.PollInterval()
	}
	interactive := !watchPlain && term.IsTerminal(int(os.Stdout.Fd()))

	var st pipeline.BatchStatus
	if interactive {
		st, err = tui.Run(poller, batch, interval, cfg.Poll.MaxPolls)
	} else {
		st, err = poller.Watch(cmd.Context(), batch,
			pipeline.WatchConfig{Interval: interval, MaxPolls: cfg.Poll.MaxPolls},
			printWatchLine)
	}
	if err != nil {
		return err
	}
	if st.Job == nil {
		// Operator quit the display before the first poll landed.
		return nil
	}

	if st.Phase.Terminal() {
		announce(cmd.Context(), cfg, st)
	}
	switch st.Phase {
	case batchapi.PhaseCompleted:
		if !interactive {
			fmt.Printf("Batch %s completed. Fetch results with: termscan fetch --batch %s\n",
				db.ShortID(id), db.ShortID(id))
		}
		return nil
	case batchapi.PhaseFailed, batchapi.PhaseExpired:
		// The TUI renders remote errors in its final view already.
		if !interactive {
			printRemoteErrors(st.Job)
		}
		return fmt.Errorf("batch %s %s", db.ShortID(id), st.Phase)
	}
	return nil
}

func printWatchLine(st pipeline.BatchStatus) {
	counts := st.Job.RequestCounts
	line := fmt.Sprintf("%s  %-12s %d/%d completed",
		time.Now().Format("15:04:05"), st.Phase, counts.Completed, counts.Total)
	if counts.Failed > 0 {
		line += fmt.Sprintf(", %d failed", counts.Failed)
	}
	if st.Throughput > 0 {
		line += fmt.Sprintf("  (%.0f items/hour)", st.Throughput)
	}
	fmt.Println(line)
}
