// Package config loads the typed configuration every control-plane
// component receives by injection, composing built-in defaults, an
// optional YAML config file, and environment-variable overrides — the
// same defaults -> file -> env -> flag layering the CLI's root command
// wires through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Timeouts bounds every external subprocess invocation (spec §5).
type Timeouts struct {
	InputGenerator time.Duration
	SchedulerSubmit time.Duration
	SchedulerQuery  time.Duration
}

// Config is the single typed configuration struct passed by constructor
// injection to every component that needs paths, scheduler binaries, or
// resource defaults. Nothing outside this package reads os.Getenv.
type Config struct {
	MaceHome       string // install root; MACE_HOME
	SlurmAccount   string // default account; SLURM_ACCOUNT
	SlurmPartition string // default partition; SLURM_PARTITION
	ScratchBase    string // scratch workspace base; SCRATCH
	BaseDir        string // workflow run base directory (workflow_configs/, workflow_outputs/, ...)
	DBPath         string // single-file relational store path

	MaxConcurrentJobs int // global scheduler job cap
	Reserve           int // jobs held back from admission
	MaxSubmit         int // per-tick submission budget

	RecoveryRuleFile string // external recovery-rule YAML document (optional)

	SchedulerSubmitCmd []string // command template, e.g. ["sbatch", "{script}"]
	SchedulerQueryCmd  []string // command template, e.g. ["squeue", "-u", "{user}", "-h"]
	SchedulerCancelCmd []string // command template, e.g. ["scancel", "{job_id}"]

	Timeouts Timeouts
}

// Defaults returns the built-in configuration before file/env overlays.
func Defaults() Config {
	return Config{
		BaseDir:           ".",
		DBPath:            "mace.db",
		MaxConcurrentJobs: 500,
		Reserve:           10,
		MaxSubmit:         50,
		SchedulerSubmitCmd: []string{"sbatch", "{script}"},
		SchedulerQueryCmd:  []string{"squeue", "-u", "{user}", "-h", "-o", "%i %T"},
		SchedulerCancelCmd: []string{"scancel", "{job_id}"},
		Timeouts: Timeouts{
			InputGenerator:  300 * time.Second,
			SchedulerSubmit: 60 * time.Second,
			SchedulerQuery:  30 * time.Second,
		},
	}
}

// Load composes defaults, an optional config file (bound to viper by the
// CLI root command before Load is called), and environment overrides, and
// returns the typed Config every component depends on.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()

	if v != nil {
		if s := v.GetString("base-dir"); s != "" {
			cfg.BaseDir = s
		}
		if s := v.GetString("db-path"); s != "" {
			cfg.DBPath = s
		}
		if n := v.GetInt("max-concurrent-jobs"); n > 0 {
			cfg.MaxConcurrentJobs = n
		}
		if n := v.GetInt("reserve"); v.IsSet("reserve") {
			cfg.Reserve = n
		}
		if n := v.GetInt("max-submit"); n > 0 {
			cfg.MaxSubmit = n
		}
		if s := v.GetString("recovery-rule-file"); s != "" {
			cfg.RecoveryRuleFile = s
		}
	}

	var flagAccount, flagPartition, flagScratch string
	if v != nil {
		flagAccount = v.GetString("slurm-account")
		flagPartition = v.GetString("slurm-partition")
		flagScratch = v.GetString("scratch")
	}

	cfg.MaceHome = firstNonEmpty(os.Getenv("MACE_HOME"), cfg.MaceHome)
	cfg.SlurmAccount = firstNonEmpty(flagAccount, os.Getenv("SLURM_ACCOUNT"), cfg.SlurmAccount)
	cfg.SlurmPartition = firstNonEmpty(flagPartition, os.Getenv("SLURM_PARTITION"), cfg.SlurmPartition)
	cfg.ScratchBase = firstNonEmpty(flagScratch, os.Getenv("SCRATCH"), cfg.ScratchBase)

	if cfg.ScratchBase == "" {
		cfg.ScratchBase = filepath.Join(cfg.BaseDir, "scratch")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants Load cannot express declaratively.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max-concurrent-jobs must be positive")
	}
	if c.Reserve < 0 {
		return fmt.Errorf("reserve must not be negative")
	}
	if c.Reserve >= c.MaxConcurrentJobs {
		return fmt.Errorf("reserve (%d) must be less than max-concurrent-jobs (%d)", c.Reserve, c.MaxConcurrentJobs)
	}
	if c.MaxSubmit <= 0 {
		return fmt.Errorf("max-submit must be positive")
	}
	return nil
}

// WorkflowOutputsDir returns <base>/workflow_outputs/<workflow_id>.
func (c Config) WorkflowOutputsDir(workflowID string) string {
	return filepath.Join(c.BaseDir, "workflow_outputs", workflowID)
}

// WorkflowConfigsDir returns <base>/workflow_configs.
func (c Config) WorkflowConfigsDir() string {
	return filepath.Join(c.BaseDir, "workflow_configs")
}

// WorkflowScriptsDir returns <base>/workflow_scripts.
func (c Config) WorkflowScriptsDir() string {
	return filepath.Join(c.BaseDir, "workflow_scripts")
}

// WorkflowInputsDir returns <base>/workflow_inputs.
func (c Config) WorkflowInputsDir() string {
	return filepath.Join(c.BaseDir, "workflow_inputs")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
