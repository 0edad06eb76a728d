package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/callback"
	"github.com/lewis-group/crystalmace/engine"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/plan"
	"github.com/lewis-group/crystalmace/queue"
	"github.com/lewis-group/crystalmace/submit"
)

var (
	tickMode       string
	tickWorkflow   string
	tickMaxSubmit  int
	tickPlanFile   string
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one admission-control cycle",
	Long: `tick drains recently finished jobs through the completion
pipeline (completion mode), then submits newly eligible pending
calculations up to the configured budget (periodic and completion
modes), or reports occupancy without submitting anything (status mode).
This is spec.md §4.3's tick(max_jobs, reserve, max_submit, mode).`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().StringVar(&tickMode, "mode", "periodic", "periodic, completion, or status")
	tickCmd.Flags().StringVar(&tickWorkflow, "workflow", "", "restrict the tick to one workflow instance (default: all active)")
	tickCmd.Flags().IntVar(&tickMaxSubmit, "max-submit", 0, "override the configured per-tick submission budget")
	tickCmd.Flags().StringVar(&tickPlanFile, "plan", "", "plan file to reload resource profiles from (needed for submission)")
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mode := queue.Mode(tickMode)
	if mode != queue.ModePeriodic && mode != queue.ModeCompletion && mode != queue.ModeStatus {
		return fmt.Errorf("invalid --mode %q: must be periodic, completion, or status", tickMode)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := newScheduler(cfg)
	gen := newGenerator(cfg)
	eng := engine.New(st, gen, cfg)
	subSvc := submit.NewService(st, sched, cfg)
	recTable, err := loadRecoveryTable(cfg)
	if err != nil {
		return err
	}

	profiles := map[string]map[string]models.ResourceProfile{}
	if tickPlanFile != "" && tickWorkflow != "" {
		loaded, err := plan.Load(tickPlanFile)
		if err != nil {
			return err
		}
		profiles[tickWorkflow] = loaded.ResourceProfiles
	}

	qm := &queue.Manager{
		Store:            st,
		Scheduler:        sched,
		Submitter:        subSvc,
		Config:           cfg,
		ResourceProfiles: profiles,
	}
	qm.Callback = &callback.Pipeline{
		Store:     st,
		Engine:    eng,
		Generator: gen,
		Ticker:    qm,
		Recovery:  recTable,
		Config:    cfg,
	}

	maxSubmit := cfg.MaxSubmit
	if tickMaxSubmit > 0 {
		maxSubmit = tickMaxSubmit
	}

	report, err := qm.Tick(context.Background(), queue.Options{
		WorkflowID: tickWorkflow,
		MaxJobs:    cfg.MaxConcurrentJobs,
		Reserve:    cfg.Reserve,
		MaxSubmit:  maxSubmit,
		Mode:       mode,
	})
	if err != nil {
		return err
	}

	fmt.Printf("active=%d pending=%d submitted=%d\n", report.Active, report.Pending, report.Submitted)
	return nil
}
