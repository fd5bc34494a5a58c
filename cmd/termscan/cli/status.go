package cli

import (
	"fmt"
	"strings"
	"time"

	"termscan/internal/cost"
	"termscan/internal/pipeline"

	"github.com/spf13/cobra"
)

const (
	statusSectionSeparator  = " · "
	statusSectionLabelWidth = 10
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the ledger without touching the remote service",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Articles         int     `json:"articles"`
	Unsubmitted      int     `json:"unsubmitted"`
	WorkItems        int     `json:"work_items"`
	Processed        int     `json:"processed"`
	PendingBatches   int     `json:"pending_batches"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Throughput       float64 `json:"throughput_per_hour"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	totals, err := store.LedgerTotals(cmd.Context())
	if err != nil {
		return err
	}
	tokens, err := store.SumTokens(cmd.Context(), "")
	if err != nil {
		return err
	}

	// Throughput from snapshots already on disk; check/watch write them.
	pending, err := store.ListPendingBatches(cmd.Context())
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-cfg.ThroughputWindow())
	var rate float64
	for _, b := range pending {
		snaps, err := store.SnapshotsSince(cmd.Context(), b.ID, cutoff)
		if err != nil {
			return err
		}
		rate += pipeline.CompletionRate(snaps)
	}

	spent := cost.Calculate(cfg.API.Model, tokens.PromptTokens, tokens.CompletionTokens)

	if jsonOut {
		printJSON(statusOutput{
			Articles:         totals.Articles,
			Unsubmitted:      totals.Unsubmitted,
			WorkItems:        totals.WorkItems,
			Processed:        totals.Processed,
			PendingBatches:   totals.PendingBatches,
			PromptTokens:     tokens.PromptTokens,
			CompletionTokens: tokens.CompletionTokens,
			CostUSD:          spent,
			Throughput:       rate,
		})
		return nil
	}

	printStatusSection("Backlog", []string{
		fmt.Sprintf("%d articles", totals.Articles),
		fmt.Sprintf("%d unsubmitted", totals.Unsubmitted),
	})
	printStatusSection("Work", []string{
		fmt.Sprintf("%d items", totals.WorkItems),
		fmt.Sprintf("%d processed", totals.Processed),
		fmt.Sprintf("%d batches in flight", totals.PendingBatches),
	})
	printStatusSection("Tokens", []string{
		fmt.Sprintf("%d prompt", tokens.PromptTokens),
		fmt.Sprintf("%d completion", tokens.CompletionTokens),
	})
	if cost.Known(cfg.API.Model) {
		printStatusSection("Cost", []string{
			fmt.Sprintf("%s (%s at %s)", cost.FormatUSD(spent), cfg.API.Model, cost.FormatRate(cfg.API.Model)),
		})
	}
	if rate > 0 {
		printStatusSection("Rate", []string{
			fmt.Sprintf("%.0f items/hour", rate),
		})
	}
	if totals.PendingBatches > 0 {
		fmt.Println("\nPoll in-flight batches with: termscan check")
	}
	return nil
}

func printStatusSection(title string, parts []string) {
	fmt.Printf("%-*s %s\n", statusSectionLabelWidth, title+":", strings.Join(parts, statusSectionSeparator))
}
