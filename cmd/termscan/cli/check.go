package cli

import (
	"errors"
	"fmt"

	"termscan/internal/batchapi"
	"termscan/internal/db"
	"termscan/internal/pipeline"

	"github.com/spf13/cobra"
)

// errNothingReady makes 'termscan check && termscan fetch' work: the
// exit code says whether completed results are waiting.
var errNothingReady = errors.New("no completed batches yet")

var checkBatch string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll pending batches once",
	Long:  "Polls the remote service for every sent batch (or one with --batch) and records a progress snapshot. Exits zero only when at least one batch is ready to fetch.",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkBatch, "batch", "", "check a single batch by id")
	rootCmd.AddCommand(checkCmd)
}

type checkBatchOutput struct {
	Batch        string              `json:"batch"`
	RemoteJobID  string              `json:"remote_job_id,omitempty"`
	Phase        string              `json:"phase,omitempty"`
	Completed    int                 `json:"completed"`
	Failed       int                 `json:"failed"`
	Total        int                 `json:"total"`
	Throughput   float64             `json:"throughput_per_hour,omitempty"`
	RemoteErrors []batchapi.JobError `json:"remote_errors,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type checkOutput struct {
	Batches    []checkBatchOutput `json:"batches"`
	Ready      bool               `json:"ready"`
	Throughput float64            `json:"throughput_per_hour"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	poller := &pipeline.Poller{
		Ledger:           store,
		Remote:           newRemote(cfg),
		ThroughputWindow: cfg.ThroughputWindow(),
	}

	var report *pipeline.CheckReport
	if checkBatch != "" {
		report, err = checkSingle(cmd, store, poller)
	} else {
		report, err = poller.CheckOnce(cmd.Context())
	}
	if err != nil {
		return err
	}

	for _, st := range report.Statuses {
		if st.Err == nil && st.Phase.Terminal() {
			announce(cmd.Context(), cfg, st)
		}
	}

	if jsonOut {
		out := checkOutput{Ready: report.Ready, Throughput: report.Throughput}
		for _, st := range report.Statuses {
			out.Batches = append(out.Batches, statusRow(st))
		}
		printJSON(out)
		if !report.Ready {
			return errNothingReady
		}
		return nil
	}

	if len(report.Statuses) == 0 {
		fmt.Println("No batches in flight. Run 'termscan submit' to create one.")
		return errNothingReady
	}

	ready := 0
	for _, st := range report.Statuses {
		printStatusLine(st)
		if st.Err == nil && st.Phase == batchapi.PhaseCompleted {
			ready++
		}
	}
	if report.Throughput > 0 {
		fmt.Printf("Throughput: %.0f items/hour\n", report.Throughput)
	}
	if ready > 0 {
		fmt.Printf("%d of %d batches ready. Fetch results with: termscan fetch\n", ready, len(report.Statuses))
		return nil
	}
	return errNothingReady
}

// checkSingle polls one batch and wraps it in a report so the output
// path is shared with the all-batches pass.
func checkSingle(cmd *cobra.Command, store *db.Store, poller *pipeline.Poller) (*pipeline.CheckReport, error) {
	id, err := resolveBatch(store, checkBatch)
	if err != nil {
		return nil, err
	}
	batch, err := store.GetBatch(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if state := batch.State(); state != "sent" {
		return nil, fmt.Errorf("batch %s is %s; only sent batches can be checked", db.ShortID(id), state)
	}

	st, err := poller.Poll(cmd.Context(), batch)
	if err != nil {
		return nil, err
	}
	return &pipeline.CheckReport{
		Statuses:   []pipeline.BatchStatus{st},
		Ready:      st.Phase == batchapi.PhaseCompleted,
		Throughput: st.Throughput,
	}, nil
}

func statusRow(st pipeline.BatchStatus) checkBatchOutput {
	out := checkBatchOutput{Batch: st.Batch.ID, RemoteJobID: st.Batch.RemoteJobID}
	if st.Err != nil {
		out.Error = st.Err.Error()
		return out
	}
	out.Phase = st.Phase.String()
	out.Completed = st.Job.RequestCounts.Completed
	out.Failed = st.Job.RequestCounts.Failed
	out.Total = st.Job.RequestCounts.Total
	out.Throughput = st.Throughput
	if st.Job.Errors != nil {
		out.RemoteErrors = st.Job.Errors.Data
	}
	return out
}

func printStatusLine(st pipeline.BatchStatus) {
	short := db.ShortID(st.Batch.ID)
	if st.Err != nil {
		fmt.Printf("%-10s poll failed: %v\n", short, st.Err)
		return
	}

	counts := st.Job.RequestCounts
	line := fmt.Sprintf("%-10s %-12s %d/%d completed", short, st.Phase, counts.Completed, counts.Total)
	if counts.Failed > 0 {
		line += fmt.Sprintf(", %d failed", counts.Failed)
	}
	if st.Throughput > 0 {
		line += fmt.Sprintf("  (%.0f items/hour)", st.Throughput)
	}
	fmt.Println(line)

	printRemoteErrors(st.Job)
}

// printRemoteErrors echoes the validation/processing errors the remote
// service attached to a job, one indented line each.
func printRemoteErrors(job *batchapi.Job) {
	if job.Errors == nil {
		return
	}
	for _, e := range job.Errors.Data {
		if e.Line != nil {
			fmt.Printf("    %s line %d: %s\n", e.Code, *e.Line, e.Message)
		} else {
			fmt.Printf("    %s: %s\n", e.Code, e.Message)
		}
	}
}
