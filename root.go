package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lewis-group/crystalmace/errorkind"
)

var cfgFile string
var generatorBinFlag map[string]string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mace",
	Short: "Control plane for CRYSTAL quantum-chemistry batch workflows",
	Long: `mace drives CRYSTAL calculation workflows across an HPC batch
scheduler: it tracks materials and their calculation chains in a single
SQLite store, submits and classifies batch jobs, fans out successor
calculations per a workflow plan's dependency rules, and recovers from
known failure modes within a bounded retry budget.`,
}

// Execute adds all child commands to the root command and runs it,
// translating the returned error into the CLI exit-code convention.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(errorkind.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mace.yaml)")
	rootCmd.PersistentFlags().String("base-dir", ".", "workflow run base directory")
	rootCmd.PersistentFlags().String("db-path", "mace.db", "path to the SQLite control-plane store")
	rootCmd.PersistentFlags().String("scratch", "", "scheduler scratch workspace base (defaults to $SCRATCH)")
	rootCmd.PersistentFlags().Int("max-concurrent-jobs", 500, "global scheduler job cap")
	rootCmd.PersistentFlags().Int("reserve", 10, "jobs held back from admission")
	rootCmd.PersistentFlags().Int("max-submit", 50, "per-tick submission budget")
	rootCmd.PersistentFlags().String("recovery-rule-file", "", "external recovery-rule YAML document")
	rootCmd.PersistentFlags().String("slurm-account", "", "default scheduler account")
	rootCmd.PersistentFlags().String("slurm-partition", "", "default scheduler partition")
	rootCmd.PersistentFlags().StringToStringVar(&generatorBinFlag, "generator-bin", nil, "generator handle=binary overrides, e.g. cif2d12=/opt/mace/bin/cif2d12")

	for _, name := range []string{
		"base-dir", "db-path", "scratch", "max-concurrent-jobs", "reserve",
		"max-submit", "recovery-rule-file", "slurm-account", "slurm-partition",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.BindEnv("scratch", "SCRATCH")
	viper.BindEnv("slurm-account", "SLURM_ACCOUNT")
	viper.BindEnv("slurm-partition", "SLURM_PARTITION")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(callbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mace")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "mace: using config file", viper.ConfigFileUsed())
	}
}
