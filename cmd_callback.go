package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/callback"
	"github.com/lewis-group/crystalmace/engine"
)

var callbackCalcID string

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Manually run the completion pipeline for one calculation",
	Long: `callback invokes the completion pipeline (spec.md §4.4) directly
against a single calculation, bypassing the scheduler-completion hook.
It runs classification, artifact registration, extraction or recovery,
and workflow advancement, but not the closing admission tick: newly
emitted calculations wait for the next "tick". Useful for replaying a classification after a recovery
rule change, or for driving the pipeline under a scheduler this build
does not natively integrate with.`,
	RunE: runCallback,
}

func init() {
	callbackCmd.Flags().StringVar(&callbackCalcID, "calculation", "", "calculation ID to process (required)")
	callbackCmd.MarkFlagRequired("calculation")
}

func runCallback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	calc, err := st.GetCalculation(callbackCalcID)
	if err != nil {
		return fmt.Errorf("load calculation %s: %w", callbackCalcID, err)
	}

	gen := newGenerator(cfg)
	eng := engine.New(st, gen, cfg)
	recTable, err := loadRecoveryTable(cfg)
	if err != nil {
		return err
	}

	p := &callback.Pipeline{
		Store:     st,
		Engine:    eng,
		Generator: gen,
		Recovery:  recTable,
		Config:    cfg,
	}

	if err := p.Process(context.Background(), calc); err != nil {
		return fmt.Errorf("process calculation %s: %w", callbackCalcID, err)
	}
	fmt.Printf("calculation %s processed\n", callbackCalcID)
	return nil
}
