package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/callback"
	"github.com/lewis-group/crystalmace/engine"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/layout"
	"github.com/lewis-group/crystalmace/models"
)

var (
	recoverCalcID string
	recoverForce  bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reprocess a failed calculation, optionally bypassing its attempt budget",
	Long: `recover re-runs the completion pipeline's failure branch
against a calculation already in "failed" or "terminally_failed" status.
Without --force it follows the same recovery-table decision the
completion pipeline would have made. With --force it creates a retry
unconditionally, ignoring the kind's attempt budget — for operator
override after a manually confirmed fix (e.g. more memory added to the
partition) that the recovery table has no rule for.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverCalcID, "calculation", "", "calculation ID to recover (required)")
	recoverCmd.Flags().BoolVar(&recoverForce, "force", false, "create a retry regardless of the attempt budget")
	recoverCmd.MarkFlagRequired("calculation")
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	calc, err := st.GetCalculation(recoverCalcID)
	if err != nil {
		return fmt.Errorf("load calculation %s: %w", recoverCalcID, err)
	}
	if calc.Status != models.StatusFailed && calc.Status != models.StatusTerminallyFailed {
		return fmt.Errorf("calculation %s is %q, not a recoverable failure state", recoverCalcID, calc.Status)
	}

	gen := newGenerator(cfg)
	ctx := context.Background()

	if !recoverForce {
		eng := engine.New(st, gen, cfg)
		recTable, err := loadRecoveryTable(cfg)
		if err != nil {
			return err
		}
		p := &callback.Pipeline{Store: st, Engine: eng, Generator: gen, Recovery: recTable, Config: cfg}
		if err := p.Process(ctx, calc); err != nil {
			return fmt.Errorf("reprocess calculation %s: %w", recoverCalcID, err)
		}
		fmt.Printf("calculation %s reprocessed\n", recoverCalcID)
		return nil
	}

	instances, err := st.ListActiveWorkflowInstances()
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	var wp models.WorkflowPlan
	found := false
	for _, wi := range instances {
		if wi.ID != calc.WorkflowInstanceID {
			continue
		}
		wp, err = st.GetPlan(wi.PlanID)
		if err != nil {
			return fmt.Errorf("load plan %s: %w", wi.PlanID, err)
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("workflow %s is not active", calc.WorkflowInstanceID)
	}

	var step models.PlanStep
	stepFound := false
	for _, s := range wp.Sequence {
		if s.CalcType == calc.CalcType {
			step = s
			stepFound = true
			break
		}
	}
	if !stepFound {
		return fmt.Errorf("plan has no step configuration for calc type %s", calc.CalcType)
	}
	stepCfg, ok := wp.StepConfigs[step.ConfigHandle]
	if !ok {
		return fmt.Errorf("plan missing step configuration %q", step.ConfigHandle)
	}

	retry, err := st.CreateRetry(calc, uuid.NewString(), calc.ConfigBlob, models.ActionRegenerateInput)
	if err != nil {
		return fmt.Errorf("create forced retry for %s: %w", recoverCalcID, err)
	}

	outDir := layout.StepDir(cfg, retry.WorkflowInstanceID, step.StepIndex, step.CalcType, retry.MaterialID)
	genCfg := genclient.Config{
		CalcType:    step.CalcType,
		MaterialID:  retry.MaterialID,
		OutputDir:   outDir,
		Options:     stepCfg.Options,
		OptionsFile: stepCfg.OptionsFile,
	}
	expected := layout.InputFile(outDir, retry.MaterialID, step.CalcType)

	if err := gen.Generate(ctx, stepCfg.Source, genCfg, expected); err != nil {
		if markErr := st.MarkFailed(retry.ID, models.ErrInputGenerationFail, ""); markErr != nil {
			return fmt.Errorf("regenerate input and mark failed for retry %s: %w / %v", retry.ID, err, markErr)
		}
		return fmt.Errorf("regenerate input for forced retry %s: %w", retry.ID, err)
	}

	fmt.Printf("forced retry %s created for calculation %s\n", retry.ID, recoverCalcID)
	return nil
}
