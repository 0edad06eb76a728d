package models

import "time"

// WorkflowPlan is an immutable, append-only sequence of calculation steps.
// Modifying a plan produces a new plan with a new ID (invariant 6).
type WorkflowPlan struct {
	ID              string           `json:"workflow_id"` // monotonic, timestamp-based
	InputType       string           `json:"input_type"`  // "cif" | "d12" | "mixed"
	Sequence        []PlanStep       `json:"workflow_sequence"`
	StepConfigs     map[string]StepConfig `json:"step_configurations"` // keyed "{type}_{step_index}"
	ExecutionSettings ExecutionSettings   `json:"execution_settings"`
	CreatedAt       time.Time        `json:"created_at"`
}

// PlanStep is one ordered entry in a plan's step sequence.
type PlanStep struct {
	StepIndex       int    `json:"step_index"`
	CalcType        string `json:"calc_type"` // token possibly carrying a numeric suffix, e.g. "OPT2"
	ResourceProfile string `json:"resource_profile"`
	ConfigHandle    string `json:"config_handle"`
}

// StepConfig is the per-step generator configuration referenced by a plan step.
type StepConfig struct {
	Source      string                 `json:"source"` // generator handle
	Options     map[string]interface{} `json:"options,omitempty"`
	OptionsFile string                 `json:"options_file,omitempty"`
}

// ExecutionSettings carries workflow-wide execution knobs.
type ExecutionSettings struct {
	MaxConcurrentJobs     int  `json:"max_concurrent_jobs"`
	EnableMaterialTracking bool `json:"enable_material_tracking"`
}

// ResourceProfile is a named HPC resource allocation referenced by
// PlanStep.ResourceProfile and rendered into submission scripts.
type ResourceProfile struct {
	Name     string `json:"name" yaml:"name"`
	Cores    int    `json:"cores" yaml:"cores"`
	MemoryGB int    `json:"memory_gb" yaml:"memory_gb"`
	Walltime string `json:"walltime" yaml:"walltime"` // e.g. "24:00:00"
	Account  string `json:"account,omitempty" yaml:"account,omitempty"`
}

// WorkflowInstance pairs an immutable plan with the set of materials it governs.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	PlanID           string         `json:"plan_id"`
	MaterialIDs      []string       `json:"material_ids"`
	Status           WorkflowStatus `json:"status"`
	MaxReachedStep   map[string]int `json:"max_reached_step"` // material_id -> highest plan step index reached
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
