package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lewis-group/crystalmace/engine"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the pending-trigger scan over every active workflow",
	Long: `check runs the consistency scan from spec.md §4.5: for every
material in every active workflow instance, it finds the highest
completed calculation and re-emits any successor the dependency table
calls for but the store is missing. This recovers from a missed or
interrupted completion tick without raising any calculation's attempt
counter.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	gen := newGenerator(cfg)
	eng := engine.New(st, gen, cfg)

	if err := eng.ReconcileAll(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("reconciliation complete")
	return nil
}
