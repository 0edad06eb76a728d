package models

import "time"

// Calculation is a single planned or executed step of a material's workflow.
// Rows are never deleted; the full attempt history is retained for provenance.
type Calculation struct {
	ID                 string            `json:"id"`
	MaterialID         string            `json:"material_id"`
	WorkflowInstanceID string            `json:"workflow_instance_id"`
	StepIndex          int               `json:"step_index"`
	CalcType           string            `json:"calc_type"` // e.g. "OPT", "SP2", "BAND"
	Status             CalculationStatus `json:"status"`
	JobID              string            `json:"job_id,omitempty"` // opaque scheduler handle, set once submitted
	AttemptCounter     int               `json:"attempt_counter"`  // 1 on first attempt, strictly increases on recovery retries
	ConfigBlob         string            `json:"config_blob"`      // effective settings for this attempt, JSON-encoded
	ParentIDs          []string          `json:"parent_ids,omitempty"`
	ErrorKind          ErrorKind         `json:"error_kind,omitempty"`
	LastRecoveryAction RecoveryAction    `json:"last_recovery_action,omitempty"`
	OutputPath         string            `json:"output_path,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	RunningAt   *time.Time `json:"running_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Label renders the calculation type with its attempt-independent numeric
// suffix, e.g. "OPT", "OPT2", "SP3". The suffix comes from CalcType itself
// (computed once at emission time by the engine), not from AttemptCounter.
func (c Calculation) Label() string {
	return c.CalcType
}

// EligibleForSubmission reports whether every parent in ParentIDs has
// completed, per invariant 1 in the data model.
func (c Calculation) EligibleForSubmission(parentStatus map[string]CalculationStatus) bool {
	for _, p := range c.ParentIDs {
		if parentStatus[p] != StatusCompleted {
			return false
		}
	}
	return true
}
