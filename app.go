package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/recovery"
	"github.com/lewis-group/crystalmace/scheduler"
	"github.com/lewis-group/crystalmace/store"
)

// loadConfig composes the typed Config every subcommand depends on from
// the root command's viper-bound flags, environment, and config file.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// openStore opens the SQLite-backed control-plane store at cfg.DBPath.
// Callers are responsible for closing it.
func openStore(cfg config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	return s, nil
}

// newScheduler builds the CLI scheduler client from cfg's command
// templates and timeouts.
func newScheduler(cfg config.Config) scheduler.Scheduler {
	return scheduler.NewCLIScheduler(
		cfg.SchedulerSubmitCmd, cfg.SchedulerQueryCmd, cfg.SchedulerCancelCmd,
		cfg.Timeouts.SchedulerSubmit, cfg.Timeouts.SchedulerQuery,
	)
}

// generatorBinaries reads the --generator-bin handle=path overrides bound
// directly to generatorBinFlag (root.go) rather than through viper, since
// viper has no reliable typed accessor for a pflag StringToString value.
// A handle absent from this map resolves to its own name on PATH, per
// genclient.Client.
func generatorBinaries() map[string]string {
	return generatorBinFlag
}

// newGenerator builds the input-generator client with the resolved
// binary table and the configured subprocess timeout.
func newGenerator(cfg config.Config) *genclient.Client {
	return genclient.NewClient(generatorBinaries(), cfg.Timeouts.InputGenerator)
}

// loadRecoveryTable loads the recovery-rule table, overlaying
// cfg.RecoveryRuleFile (if any) onto the built-in defaults.
func loadRecoveryTable(cfg config.Config) (recovery.Table, error) {
	return recovery.Load(cfg.RecoveryRuleFile)
}
