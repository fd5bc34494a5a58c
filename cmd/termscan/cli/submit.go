package cli

import (
	"fmt"
	"os"
	"strings"

	"termscan/internal/cost"
	"termscan/internal/db"
	"termscan/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	submitJournals []string
	submitLimit    int
	submitModel    string
	submitMaxItems int
	submitDryRun   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build a batch from the article backlog and send it",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringArrayVar(&submitJournals, "journal", nil, "restrict to a journal (repeatable, overrides config)")
	submitCmd.Flags().IntVar(&submitLimit, "limit", 0, "max candidates examined (0 = no cap)")
	submitCmd.Flags().StringVar(&submitModel, "model", "", "model to request (overrides config)")
	submitCmd.Flags().IntVar(&submitMaxItems, "max-items", 0, "max articles per batch (overrides config, 0 = no cap)")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "write the manifest but submit nothing")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	model := submitModel
	if model == "" {
		model = cfg.API.Model
	}
	journals := submitJournals
	if len(journals) == 0 {
		journals = cfg.Submit.Journals
	}
	maxItems := cfg.Submit.MaxItems
	if cmd.Flags().Changed("max-items") {
		maxItems = submitMaxItems
	}

	builder := &pipeline.Builder{
		Ledger:      store,
		ManifestDir: cfg.ManifestDir,
		Tokens:      pipeline.NewTokenCounter(model),
	}
	res, err := builder.Build(cmd.Context(), pipeline.BuildRequest{
		Model:    model,
		Journals: journals,
		Limit:    submitLimit,
		MaxItems: maxItems,
		DryRun:   submitDryRun,
	})
	if err != nil {
		return err
	}

	if submitDryRun {
		fmt.Printf("[dry-run] manifest written to %s\n", res.ManifestPath)
		fmt.Printf("[dry-run] would submit %d items with model %s\n", res.Submitted, model)
		printBuildSummary(res, model)
		return nil
	}

	submitter := &pipeline.Submitter{
		Ledger:           store,
		Remote:           newRemote(cfg),
		CompletionWindow: cfg.API.CompletionWindow,
	}
	job, err := submitter.Submit(cmd.Context(), res.Batch, res.ManifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit failed; 'termscan delete %s' releases the claimed articles\n", db.ShortID(res.BatchID))
		return err
	}

	fmt.Printf("Batch %s submitted\n", db.ShortID(res.BatchID))
	fmt.Printf("  Remote job: %s (%s window)\n", job.ID, cfg.API.CompletionWindow)
	fmt.Printf("  Manifest:   %s\n", res.ManifestPath)
	printBuildSummary(res, model)
	fmt.Printf("\nTrack progress with: termscan watch %s\n", db.ShortID(res.BatchID))
	return nil
}

func printBuildSummary(res *pipeline.BuildResult, model string) {
	fmt.Printf("  Model:      %s\n", model)
	fmt.Printf("  Items:      %d of %d examined\n", res.Submitted, res.Examined)
	if skipped := res.Examined - res.Submitted; skipped > 0 {
		var parts []string
		if res.AlreadyProcessed > 0 {
			parts = append(parts, fmt.Sprintf("%d already processed", res.AlreadyProcessed))
		}
		if res.MissingTitle > 0 {
			parts = append(parts, fmt.Sprintf("%d missing title", res.MissingTitle))
		}
		if res.MissingMetadata > 0 {
			parts = append(parts, fmt.Sprintf("%d missing metadata", res.MissingMetadata))
		}
		fmt.Printf("  Skipped:    %s\n", strings.Join(parts, ", "))
	}
	if res.Truncated {
		fmt.Println("  Capped at max items; remaining candidates stay in the backlog.")
	}
	if res.EstimatedPromptTokens > 0 {
		line := fmt.Sprintf("  Est. tokens: %d prompt", res.EstimatedPromptTokens)
		if cost.Known(model) {
			c := cost.Calculate(model, int64(res.EstimatedPromptTokens), 0)
			line += fmt.Sprintf(" (%s before completions, %s)", cost.FormatUSD(c), cost.FormatRate(model))
		}
		fmt.Println(line)
	}
}
