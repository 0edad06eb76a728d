package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/models"
)

var cancelMaterialID string
var cancelWorkflowID string

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel pending calculations for a material or a whole workflow instance",
	Long: `cancel moves pending calculations to "cancelled" without touching
calculations already submitted or running - those continue to completion
and are classified normally. Give --material to abandon one material's
remaining branches (e.g. an input error discovered after OPT already
succeeded), or --workflow to abandon every material in a workflow
instance and mark the instance itself cancelled.`,
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelMaterialID, "material", "", "material ID to cancel pending work for")
	cancelCmd.Flags().StringVar(&cancelWorkflowID, "workflow", "", "workflow instance ID to cancel pending work for")
}

func runCancel(cmd *cobra.Command, args []string) error {
	if cancelMaterialID == "" && cancelWorkflowID == "" {
		return fmt.Errorf("one of --material or --workflow is required")
	}
	if cancelMaterialID != "" && cancelWorkflowID != "" {
		return fmt.Errorf("--material and --workflow are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if cancelMaterialID != "" {
		n, err := st.CancelPendingForMaterial(cancelMaterialID)
		if err != nil {
			return fmt.Errorf("cancel pending calculations for %s: %w", cancelMaterialID, err)
		}
		fmt.Printf("cancelled %d pending calculation(s) for material %s\n", n, cancelMaterialID)
		return nil
	}

	n, err := st.CancelPendingForWorkflow(cancelWorkflowID)
	if err != nil {
		return fmt.Errorf("cancel pending calculations for workflow %s: %w", cancelWorkflowID, err)
	}
	if err := st.SetWorkflowStatus(cancelWorkflowID, models.WorkflowCancelled); err != nil {
		return fmt.Errorf("mark workflow %s cancelled: %w", cancelWorkflowID, err)
	}
	fmt.Printf("cancelled %d pending calculation(s) and marked workflow %s cancelled\n", n, cancelWorkflowID)
	return nil
}
