package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"termscan/internal/cost"
	"termscan/internal/db"
	"termscan/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	fetchBatch       string
	fetchReportCosts bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download completed batch results into the ledger",
	Long:  "Reconciles every completed batch (or one with --batch): downloads the output artifact, applies the verdicts, and marks the batch retrieved. Batches still running are skipped.",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchBatch, "batch", "", "fetch a single batch by id")
	fetchCmd.Flags().BoolVar(&fetchReportCosts, "report-costs", false, "print token usage and estimated cost")
	rootCmd.AddCommand(fetchCmd)
}

type fetchBatchOutput struct {
	Batch            string  `json:"batch"`
	Applied          int     `json:"applied"`
	Replayed         int     `json:"replayed,omitempty"`
	Unknown          int     `json:"unknown,omitempty"`
	Failed           int     `json:"failed"`
	Malformed        int     `json:"malformed"`
	ErrorLines       int     `json:"error_lines,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

type fetchOutput struct {
	Batches []fetchBatchOutput `json:"batches"`
	Skipped int                `json:"skipped"`
	Applied int                `json:"applied"`
	Failed  int                `json:"failed"`
	CostUSD float64            `json:"cost_usd,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := &pipeline.Reconciler{Ledger: store, Remote: newRemote(cfg)}

	var batches []*db.Batch
	if fetchBatch != "" {
		id, err := resolveBatch(store, fetchBatch)
		if err != nil {
			return err
		}
		b, err := store.GetBatch(cmd.Context(), id)
		if err != nil {
			return err
		}
		batches = append(batches, b)
	} else {
		batches, err = store.ListPendingBatches(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := fetchOutput{}
	var reports []*pipeline.FetchReport
	for _, b := range batches {
		report, err := rec.Fetch(cmd.Context(), b)
		if err != nil {
			// A sweep skips batches that are still running; a named
			// batch is the operator asking for this one specifically.
			if fetchBatch == "" && errors.Is(err, pipeline.ErrBatchNotReady) {
				slog.Debug("batch not ready", "batch", db.ShortID(b.ID))
				out.Skipped++
				continue
			}
			return err
		}
		reports = append(reports, report)
		out.Applied += report.Applied
		out.Failed += report.Failed
	}

	if jsonOut {
		for _, r := range reports {
			row := fetchBatchOutput{
				Batch:            r.Batch.ID,
				Applied:          r.Applied,
				Replayed:         r.Replayed,
				Unknown:          r.Unknown,
				Failed:           r.Failed,
				Malformed:        r.Malformed,
				ErrorLines:       r.ErrorLines,
				PromptTokens:     r.Tokens.PromptTokens,
				CompletionTokens: r.Tokens.CompletionTokens,
			}
			if cost.Known(r.Batch.Model) {
				row.CostUSD = cost.Calculate(r.Batch.Model, r.Tokens.PromptTokens, r.Tokens.CompletionTokens)
			}
			out.CostUSD += row.CostUSD
			out.Batches = append(out.Batches, row)
		}
		printJSON(out)
		return nil
	}

	if len(reports) == 0 {
		if out.Skipped > 0 {
			fmt.Printf("No batches ready to fetch (%d still running). Try 'termscan check' later.\n", out.Skipped)
		} else {
			fmt.Println("No batches ready to fetch.")
		}
		return nil
	}

	for _, r := range reports {
		printFetchReport(r)
	}
	if len(reports) > 1 || out.Skipped > 0 {
		fmt.Printf("\nTotal: %d batches fetched (%d still running), %d verdicts applied, %d failed\n",
			len(reports), out.Skipped, out.Applied, out.Failed)
	}
	if fetchReportCosts {
		printCostReport(reports)
	}
	return nil
}

func printFetchReport(r *pipeline.FetchReport) {
	line := fmt.Sprintf("Fetched %s: %d verdicts applied", db.ShortID(r.Batch.ID), r.Applied)
	if r.Replayed > 0 {
		line += fmt.Sprintf(", %d replayed", r.Replayed)
	}
	if r.Unknown > 0 {
		line += fmt.Sprintf(", %d unknown", r.Unknown)
	}
	if r.Failed > 0 {
		line += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Malformed > 0 {
		line += fmt.Sprintf(", %d malformed", r.Malformed)
	}
	fmt.Println(line)
	if r.ErrorLines > 0 {
		fmt.Printf("  %d error lines echoed to stderr\n", r.ErrorLines)
	}
}

func printCostReport(reports []*pipeline.FetchReport) {
	var prompt, completion int64
	var total float64
	priced := true
	for _, r := range reports {
		prompt += r.Tokens.PromptTokens
		completion += r.Tokens.CompletionTokens
		if cost.Known(r.Batch.Model) {
			total += cost.Calculate(r.Batch.Model, r.Tokens.PromptTokens, r.Tokens.CompletionTokens)
		} else {
			priced = false
		}
	}

	fmt.Printf("\nPrompt tokens:     %d\n", prompt)
	fmt.Printf("Completion tokens: %d\n", completion)
	if priced && len(reports) > 0 {
		fmt.Printf("Cost:              %s (%s)\n", cost.FormatUSD(total), cost.FormatRate(reports[0].Batch.Model))
	} else {
		fmt.Println("Cost:              not available for this model")
	}
}
