package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/engine"
	"github.com/lewis-group/crystalmace/materialid"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/plan"
)

var (
	submitPlanFile string
	submitSources  []string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Register a workflow plan and seed its materials' first calculation",
	Long: `submit loads a workflow plan file, persists it and a new workflow
instance over the given source files, then seeds each material's step-0
calculation. It is idempotent per material: re-running submit with a
source list that includes an already-registered material leaves that
material's seeded calculation untouched.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitPlanFile, "plan", "", "workflow plan file (required)")
	submitCmd.Flags().StringArrayVar(&submitSources, "source", nil, "source file for a material; repeatable (required)")
	submitCmd.MarkFlagRequired("plan")
	submitCmd.MarkFlagRequired("source")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loaded, err := plan.Load(submitPlanFile)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreatePlan(loaded.Plan); err != nil {
		return fmt.Errorf("persist plan %s: %w", loaded.Plan.ID, err)
	}

	materialIDs := make([]string, 0, len(submitSources))
	for _, src := range submitSources {
		materialIDs = append(materialIDs, materialid.Extract(filepath.Base(src)))
	}

	instance := models.WorkflowInstance{
		ID:          uuid.NewString(),
		PlanID:      loaded.Plan.ID,
		MaterialIDs: materialIDs,
		Status:      models.WorkflowActive,
	}
	if err := st.CreateWorkflowInstance(instance); err != nil {
		return fmt.Errorf("create workflow instance: %w", err)
	}

	gen := newGenerator(cfg)
	eng := engine.New(st, gen, cfg)

	ctx := context.Background()
	for i, src := range submitSources {
		matID := materialIDs[i]
		if _, err := st.GetOrCreateMaterial(matID, src); err != nil {
			return fmt.Errorf("register material for %s: %w", src, err)
		}
		if err := eng.Seed(ctx, loaded.Plan, instance.ID, matID, src); err != nil {
			return fmt.Errorf("seed material %s: %w", matID, err)
		}
	}

	fmt.Printf("workflow %s submitted with %d material(s)\n", instance.ID, len(materialIDs))
	return nil
}
