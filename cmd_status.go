package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/queue"
)

var statusWorkflow string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot JSON occupancy/pending report",
	Long: `status runs a read-only tick (spec.md §4.3 "status mode"): it
reports the scheduler's current job occupancy and the number of pending
calculations, without submitting anything. Pair with --workflow to
restrict the pending count to one workflow instance.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkflow, "workflow", "", "restrict to one workflow instance (default: all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := newScheduler(cfg)
	qm := &queue.Manager{Store: st, Scheduler: sched, Config: cfg}

	report, err := qm.Tick(context.Background(), queue.Options{
		WorkflowID: statusWorkflow,
		MaxJobs:    cfg.MaxConcurrentJobs,
		Reserve:    cfg.Reserve,
		Mode:       queue.ModeStatus,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Workflow string `json:"workflow,omitempty"`
		Active   int    `json:"active"`
		Pending  int    `json:"pending"`
	}{
		Workflow: statusWorkflow,
		Active:   report.Active,
		Pending:  report.Pending,
	})
}
