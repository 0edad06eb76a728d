// Package submit turns a pending calculation into a submitted batch job
// (spec.md §4.2): it materializes the per-material per-step working
// directory, renders a submission script from a text/template, calls the
// scheduler, and persists the returned job identifier. Grounded on the
// teacher's directory-materialization code in server.go/sync.go,
// generalized from a docs-sync working tree to a per-calculation
// scratch/output tree.
package submit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/layout"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/scheduler"
)

// Store is the subset of store.Store the submit service needs.
type Store interface {
	MarkSubmitted(id, jobID string) error
}

// Service renders submission scripts and drives the scheduler client.
type Service struct {
	Store       Store
	Scheduler   scheduler.Scheduler
	Config      config.Config
	MaxAttempts int           // bounded retry for JobSubmissionError, spec.md §4.2 ("recommended 3")
	RetryDelay  time.Duration // spec.md §4.2 ("60-second delays")
}

// NewService builds a Service with the spec's recommended retry budget.
func NewService(store Store, sched scheduler.Scheduler, cfg config.Config) *Service {
	return &Service{
		Store:       store,
		Scheduler:   sched,
		Config:      cfg,
		MaxAttempts: 3,
		RetryDelay:  60 * time.Second,
	}
}

// scriptTemplate is the per-calc-type submission script body. A single
// template covers every calc type: the resource profile, scratch path,
// and completion hook vary per rendering, not the shape of the script.
var scriptTemplate = template.Must(template.New("submit.sh").Parse(`#!/bin/bash
#SBATCH --job-name={{.MaterialID}}_{{.CalcType}}
#SBATCH --nodes=1
#SBATCH --ntasks={{.Profile.Cores}}
#SBATCH --mem={{.Profile.MemoryGB}}G
#SBATCH --time={{.Profile.Walltime}}
{{- if .Profile.Account}}
#SBATCH --account={{.Profile.Account}}
{{- end}}
#SBATCH --output={{.SchedulerLogPattern}}

set -euo pipefail

cd "{{.ScratchDir}}"
cp "{{.InputFile}}" .

crystal < "{{.InputBase}}" > "{{.OutputFile}}" 2>&1

cp "{{.OutputFile}}" "{{.WorkDir}}/" || true
cp *.f9 "{{.WorkDir}}/" 2>/dev/null || true

{{.CompletionHook}}
`))

type scriptVars struct {
	MaterialID          string
	CalcType            string
	Profile             models.ResourceProfile
	ScratchDir          string
	WorkDir             string
	InputFile           string
	InputBase           string
	OutputFile          string
	SchedulerLogPattern string
	CompletionHook      string
}

// Submit renders the script, writes it for auditability, and calls the
// scheduler. It is idempotent: a calculation already in "submitted" is
// left untouched (spec.md §5(a)).
func (s *Service) Submit(ctx context.Context, wp models.WorkflowPlan, profiles map[string]models.ResourceProfile, calc models.Calculation) (string, error) {
	if calc.Status == models.StatusSubmitted {
		return calc.JobID, nil
	}
	step, ok := stepFor(wp, calc.StepIndex)
	if !ok {
		return "", fmt.Errorf("plan has no step at index %d", calc.StepIndex)
	}
	profile := profiles[step.ResourceProfile]

	workDir := layout.StepDir(s.Config, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	scratchDir := layout.ScratchDir(s.Config, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir %s: %w", workDir, err)
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir %s: %w", scratchDir, err)
	}

	inputFile := layout.InputFile(workDir, calc.MaterialID, calc.CalcType)
	scriptPath := layout.ScriptFile(workDir, calc.MaterialID)

	vars := scriptVars{
		MaterialID:          calc.MaterialID,
		CalcType:            calc.CalcType,
		Profile:             profile,
		ScratchDir:          scratchDir,
		WorkDir:             workDir,
		InputFile:           inputFile,
		InputBase:           calc.MaterialID + "." + layout.InputExt(calc.CalcType),
		OutputFile:          calc.MaterialID + ".out",
		SchedulerLogPattern: layout.SchedulerLogFile(workDir, calc.MaterialID, "%j"),
		CompletionHook:      completionHookSnippet(s.Config.MaxSubmit, calc.WorkflowInstanceID),
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render submission script: %w", err)
	}

	// Never mutate a previously written script (spec.md §4.2 side effects):
	// a calculation whose earlier submission attempt failed before
	// MarkSubmitted ran (e.g. the scheduler was unreachable) re-enters
	// Submit on the next tick with the same scriptPath, so the write is
	// guarded on the file not already existing rather than relying on the
	// status check alone.
	if _, err := os.Stat(scriptPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat submission script %s: %w", scriptPath, err)
		}
		if err := os.WriteFile(scriptPath, buf.Bytes(), 0o755); err != nil {
			return "", fmt.Errorf("write submission script %s: %w", scriptPath, err)
		}
	}

	jobID, err := s.submitWithRetry(ctx, scriptPath)
	if err != nil {
		return "", fmt.Errorf("submit %s/%s: %w", calc.MaterialID, calc.CalcType, err)
	}

	if err := s.Store.MarkSubmitted(calc.ID, jobID); err != nil {
		return "", fmt.Errorf("record submission for %s: %w", calc.ID, err)
	}
	return jobID, nil
}

func (s *Service) submitWithRetry(ctx context.Context, scriptPath string) (string, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := s.RetryDelay
	if delay <= 0 {
		delay = 60 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		jobID, err := s.Scheduler.Submit(ctx, scriptPath)
		if err == nil {
			return jobID, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("job submission error after %d attempts: %w", maxAttempts, lastErr)
}

// completionHookSnippet embeds the fixed completion-hook suffix that
// re-invokes the queue-manager CLI in completion mode after the solver
// finishes, resolving the executable via MACE_HOME, then PATH, then a
// fixed set of relative candidates climbing out of the working
// directory (spec.md §4.2 path-resolution contract). Absence of all
// three is a warning, never a job failure.
func completionHookSnippet(maxSubmit int, workflowInstanceID string) string {
	return fmt.Sprintf(`
MACE_BIN=""
if [ -n "${MACE_HOME:-}" ] && [ -x "$MACE_HOME/bin/mace" ]; then
    MACE_BIN="$MACE_HOME/bin/mace"
elif command -v mace >/dev/null 2>&1; then
    MACE_BIN="$(command -v mace)"
else
    for candidate in ../../../bin/mace ../../bin/mace ../bin/mace; do
        if [ -x "$candidate" ]; then
            MACE_BIN="$candidate"
            break
        fi
    done
fi

if [ -n "$MACE_BIN" ]; then
    "$MACE_BIN" tick --mode completion --max-submit %d --workflow %s
else
    echo "mace: warning: could not locate mace executable for completion hook" >&2
fi
`, maxSubmit, workflowInstanceID)
}

func stepFor(wp models.WorkflowPlan, stepIndex int) (models.PlanStep, bool) {
	for _, s := range wp.Sequence {
		if s.StepIndex == stepIndex {
			return s, true
		}
	}
	return models.PlanStep{}, false
}

