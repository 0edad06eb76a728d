// Package plan loads and validates the immutable workflow plan document
// the control plane consumes, generalizing the teacher's JSON-tagged
// document structs (models/sync.go) from a document-sync manifest to a
// versioned calculation-sequence manifest.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lewis-group/crystalmace/models"
)

// document is the on-disk JSON shape of a plan file (spec.md §6
// "Workflow plan file").
type document struct {
	WorkflowID          string                        `json:"workflow_id"`
	InputType           string                        `json:"input_type"`
	WorkflowSequence    []string                      `json:"workflow_sequence"`
	StepConfigurations  map[string]models.StepConfig  `json:"step_configurations"`
	ExecutionSettings   models.ExecutionSettings       `json:"execution_settings"`
	ResourceProfiles    map[string]models.ResourceProfile `json:"resource_profiles,omitempty"`
}

var validInputTypes = map[string]bool{"cif": true, "d12": true, "mixed": true}

// Loaded bundles the validated plan with the resource-profile table its
// plan file carries. Resource profiles are plan-file-scoped configuration
// (spec.md §4.2 needs them at render time) rather than a persisted store
// table, so they travel alongside the plan instead of inside it.
type Loaded struct {
	Plan             models.WorkflowPlan
	ResourceProfiles map[string]models.ResourceProfile
}

// Load reads, parses, and validates a plan file at path, returning the
// in-memory WorkflowPlan the engine and submit service operate on.
func Load(path string) (Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read plan file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Loaded{}, fmt.Errorf("parse plan file %s: %w", path, err)
	}

	l, err := fromDocument(doc)
	if err != nil {
		return Loaded{}, fmt.Errorf("plan file %s: %w", path, err)
	}
	return l, nil
}

func fromDocument(doc document) (Loaded, error) {
	if doc.WorkflowID == "" {
		return Loaded{}, fmt.Errorf("workflow_id is required")
	}
	if !validInputTypes[doc.InputType] {
		return Loaded{}, fmt.Errorf("input_type %q must be one of cif, d12, mixed", doc.InputType)
	}
	if len(doc.WorkflowSequence) == 0 {
		return Loaded{}, fmt.Errorf("workflow_sequence must not be empty")
	}
	if doc.ExecutionSettings.MaxConcurrentJobs <= 0 {
		return Loaded{}, fmt.Errorf("execution_settings.max_concurrent_jobs must be positive")
	}

	seen := map[string]bool{}
	sequence := make([]models.PlanStep, 0, len(doc.WorkflowSequence))
	for i, calcType := range doc.WorkflowSequence {
		if calcType == "" {
			return Loaded{}, fmt.Errorf("workflow_sequence[%d] is empty", i)
		}
		if seen[calcType] {
			return Loaded{}, fmt.Errorf("workflow_sequence[%d]: duplicate calculation type %q", i, calcType)
		}
		seen[calcType] = true

		key := fmt.Sprintf("%s_%d", calcType, i)
		cfg, ok := doc.StepConfigurations[key]
		if !ok {
			return Loaded{}, fmt.Errorf("step_configurations missing entry %q for sequence position %d", key, i)
		}
		if cfg.Source == "" && cfg.OptionsFile == "" {
			return Loaded{}, fmt.Errorf("step_configurations[%q]: either source or options_file is required", key)
		}

		profileName := calcType
		if profile, ok := doc.ResourceProfiles[calcType]; ok && profile.Name != "" {
			profileName = profile.Name
		}

		sequence = append(sequence, models.PlanStep{
			StepIndex:       i,
			CalcType:        calcType,
			ResourceProfile: profileName,
			ConfigHandle:    key,
		})
	}

	stepConfigs := make(map[string]models.StepConfig, len(doc.StepConfigurations))
	for k, v := range doc.StepConfigurations {
		stepConfigs[k] = v
	}

	return Loaded{
		Plan: models.WorkflowPlan{
			ID:                doc.WorkflowID,
			InputType:         doc.InputType,
			Sequence:          sequence,
			StepConfigs:       stepConfigs,
			ExecutionSettings: doc.ExecutionSettings,
		},
		ResourceProfiles: doc.ResourceProfiles,
	}, nil
}

// StepAt returns the plan step at stepIndex, and whether it exists.
func StepAt(p models.WorkflowPlan, stepIndex int) (models.PlanStep, bool) {
	for _, s := range p.Sequence {
		if s.StepIndex == stepIndex {
			return s, true
		}
	}
	return models.PlanStep{}, false
}

// IndexOfType returns the step index of the first occurrence of calcType
// in the plan sequence, and whether it was found, i.e. whether the plan
// includes that branch at all.
func IndexOfType(p models.WorkflowPlan, calcType string) (int, bool) {
	for _, s := range p.Sequence {
		if s.CalcType == calcType {
			return s.StepIndex, true
		}
	}
	return 0, false
}
