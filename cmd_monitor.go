package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/queue"
	"github.com/lewis-group/crystalmace/statusapi"
	"github.com/lewis-group/crystalmace/store"
)

var monitorInterval time.Duration
var monitorServe bool
var monitorServePort string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously print occupancy and pending counts to the terminal",
	Long: `monitor runs a read-only status tick on a fixed interval and
prints one line per active workflow instance, for a terminal left open
next to a running batch of jobs. Use the HTTP status server (serve) for
anything that needs machine-readable polling.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 30*time.Second, "refresh interval")
	monitorCmd.Flags().BoolVar(&monitorServe, "serve", false, "also start the read-only HTTP status server alongside the terminal refresh")
	monitorCmd.Flags().StringVar(&monitorServePort, "serve-port", "8080", "port for --serve's HTTP status server")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	if monitorServe {
		gin.SetMode(gin.ReleaseMode)
		srv := statusapi.New(st)
		router := srv.Router()
		go func() {
			fmt.Printf("monitor: also serving read-only status API on port %s\n", monitorServePort)
			if err := router.Run(":" + monitorServePort); err != nil {
				fmt.Printf("monitor: status server stopped: %v\n", err)
			}
		}()
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		if err := printDashboard(cmd.Context(), st, qm); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

func printDashboard(ctx context.Context, st *store.Store, qm *queue.Manager) error {
	instances, err := st.ListActiveWorkflowInstances()
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}

	fmt.Printf("--- %s ---\n", time.Now().Format(time.RFC3339))
	if len(instances) == 0 {
		fmt.Println("no active workflows")
		return nil
	}

	for _, wi := range instances {
		report, err := qm.Tick(ctx, queue.Options{
			WorkflowID: wi.ID,
			MaxJobs:    qm.Config.MaxConcurrentJobs,
			Reserve:    qm.Config.Reserve,
			Mode:       queue.ModeStatus,
		})
		if err != nil {
			fmt.Printf("%s: error: %v\n", wi.ID, err)
			continue
		}
		fmt.Printf("%s  materials=%d active=%d pending=%d\n", wi.ID, len(wi.MaterialIDs), report.Active, report.Pending)
	}
	return nil
}
