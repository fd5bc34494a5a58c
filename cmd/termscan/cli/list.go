package cli

import (
	"fmt"
	"strings"

	"termscan/internal/db"

	"github.com/spf13/cobra"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "include retrieved batches")
	rootCmd.AddCommand(listCmd)
}

type listBatchOutput struct {
	Batch         string `json:"batch"`
	State         string `json:"state"`
	RemoteJobID   string `json:"remote_job_id,omitempty"`
	Model         string `json:"model"`
	Items         int    `json:"items"`
	Processed     int    `json:"processed"`
	WhenCreated   string `json:"when_created"`
	WhenSent      string `json:"when_sent,omitempty"`
	WhenRetrieved string `json:"when_retrieved,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	batches, err := store.ListBatches(cmd.Context(), listAll)
	if err != nil {
		return err
	}

	if jsonOut {
		rows := make([]listBatchOutput, 0, len(batches))
		for _, b := range batches {
			rows = append(rows, listBatchOutput{
				Batch:         b.ID,
				State:         b.State(),
				RemoteJobID:   b.RemoteJobID,
				Model:         b.Model,
				Items:         b.ItemCount,
				Processed:     b.ProcessedCount,
				WhenCreated:   b.WhenCreated,
				WhenSent:      b.WhenSent,
				WhenRetrieved: b.WhenRetrieved,
			})
		}
		printJSON(rows)
		return nil
	}

	if len(batches) == 0 {
		fmt.Println("No batches found. Run 'termscan submit' to create one.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-22s %-12s %6s %6s  %s\n", "BATCH", "STATE", "REMOTE", "MODEL", "ITEMS", "DONE", "UPDATED")
	fmt.Println(strings.Repeat("-", 92))

	created, sent, retrieved := 0, 0, 0
	for _, b := range batches {
		remote := b.RemoteJobID
		if remote == "" {
			remote = "-"
		}
		fmt.Printf("%-10s %-10s %-22s %-12s %6d %6d  %s\n",
			db.ShortID(b.ID), b.State(), truncate(remote, 22), truncate(b.Model, 12),
			b.ItemCount, b.ProcessedCount, lastActivity(b))

		switch b.State() {
		case "created":
			created++
		case "sent":
			sent++
		case "retrieved":
			retrieved++
		}
	}
	fmt.Printf("Total: %d batches (%d created, %d sent, %d retrieved)\n",
		len(batches), created, sent, retrieved)
	return nil
}

// lastActivity picks the most recent lifecycle timestamp for display.
func lastActivity(b *db.Batch) string {
	switch {
	case b.WhenRetrieved != "":
		return b.WhenRetrieved
	case b.WhenSent != "":
		return b.WhenSent
	default:
		return b.WhenCreated
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
