// Package layout builds the on-disk directory tree for a workflow run and
// its parallel scratch tree, generalizing the teacher's path-safety helpers
// (utils/path.go) from "keep a request path inside the docs directory" to
// "keep a material's step directory inside the workflow's output tree."
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lewis-group/crystalmace/config"
)

// StepDirName renders the "step_<NNN>_<TYPE>" directory name for a plan step.
func StepDirName(stepIndex int, calcType string) string {
	return fmt.Sprintf("step_%03d_%s", stepIndex, strings.ToUpper(calcType))
}

// StepDir returns <base>/workflow_outputs/<workflow_id>/step_<NNN>_<TYPE>/<material_id>.
func StepDir(cfg config.Config, workflowID string, stepIndex int, calcType, materialID string) string {
	return filepath.Join(cfg.WorkflowOutputsDir(workflowID), StepDirName(stepIndex, calcType), materialID)
}

// ScratchDir mirrors StepDir under the scheduler-provided scratch base,
// keyed identically by workflow, step index, and material identifier.
func ScratchDir(cfg config.Config, workflowID string, stepIndex int, calcType, materialID string) string {
	return filepath.Join(cfg.ScratchBase, workflowID, StepDirName(stepIndex, calcType), materialID)
}

// InputFile returns the expected input file path for a calculation, with
// extension ".d12" for SCF-driving steps and ".d3" for properties steps.
func InputFile(dir, materialID, calcType string) string {
	return filepath.Join(dir, materialID+"."+InputExt(calcType))
}

// OutputFile returns the expected solver output path (<material_id>.out).
func OutputFile(dir, materialID string) string {
	return filepath.Join(dir, materialID+".out")
}

// ScriptFile returns the submission script path (<material_id>.sh).
func ScriptFile(dir, materialID string) string {
	return filepath.Join(dir, materialID+".sh")
}

// WavefunctionFile returns the wavefunction artifact path (<material_id>.f9).
func WavefunctionFile(dir, materialID string) string {
	return filepath.Join(dir, materialID+".f9")
}

// SchedulerLogFile returns the scheduler log path (<material_id>.<job_id>.o).
func SchedulerLogFile(dir, materialID, jobID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s.o", materialID, jobID))
}

// BandDataFile returns the auxiliary band-structure data path CRYSTAL's
// properties executable writes alongside a BAND step's solver output
// (<material_id>.BAND.DAT).
func BandDataFile(dir, materialID string) string {
	return filepath.Join(dir, materialID+".BAND.DAT")
}

// InputExt returns the solver input file extension for a calculation
// type: "d3" for properties steps (BAND/DOSS/TRANSPORT/CHARGE), "d12"
// for SCF-driving steps.
func InputExt(calcType string) string {
	t := strings.ToUpper(calcType)
	switch {
	case strings.HasPrefix(t, "BAND"), strings.HasPrefix(t, "DOSS"),
		strings.HasPrefix(t, "TRANSPORT"), strings.HasPrefix(t, "CHARGE"):
		return "d3"
	default:
		return "d12"
	}
}

// IsWithin reports whether candidate resolves to a path inside root, the
// same directory-traversal guard the teacher applies to API-supplied paths.
func IsWithin(root, candidate string) bool {
	cleanRoot := filepath.Clean(root)
	cleanCandidate := filepath.Clean(candidate)

	rel, err := filepath.Rel(cleanRoot, cleanCandidate)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
