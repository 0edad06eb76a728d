// Package engine is the workflow state machine (spec.md §4.1): it turns
// a completed calculation into the newly pending successors the plan's
// dependency rules call for, and recovers missed emissions via the
// pending-trigger scan (spec.md §4.5). Grounded on the wave/dependency
// advancement idiom in other_examples' conductor orchestrator
// (dependency-driven stage advancement) and the teacher's job-row
// creation pattern in services/job_queue.go.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/layout"
	"github.com/lewis-group/crystalmace/models"
)

// Store is the subset of store.Store the engine depends on, named so
// engine tests can substitute an in-memory fake without opening SQLite.
type Store interface {
	ExistsSuccessor(materialID, workflowID, calcType string) (bool, error)
	CreateCalculation(c models.Calculation) (bool, error)
	MarkFailed(id string, kind models.ErrorKind, outputPath string) error
	ListCompleted(workflowID, materialID string) ([]models.Calculation, error)
	ListByWorkflowMaterial(workflowID, materialID string) ([]models.Calculation, error)
	ListActiveWorkflowInstances() ([]models.WorkflowInstance, error)
	GetPlan(id string) (models.WorkflowPlan, error)
	GetInputSettings(calculationID string) (models.InputSettings, error)
}

// Generator materializes a successor's input file. genclient.Client
// satisfies this; engine tests substitute a stub.
type Generator interface {
	Generate(ctx context.Context, handle string, cfg genclient.Config, expectedOutput string) error
}

// Engine advances workflow state per spec.md §4.1.
type Engine struct {
	Store     Store
	Generator Generator
	Config    config.Config
}

// New builds an Engine over a store and generator client.
func New(store Store, gen Generator, cfg config.Config) *Engine {
	return &Engine{Store: store, Generator: gen, Config: cfg}
}

var calcTypeRe = regexp.MustCompile(`^([A-Za-z]+)(\d*)$`)

// splitCalcType separates a calculation-type label into its base token
// and numeric suffix (1 when absent), e.g. "OPT2" -> ("OPT", 2),
// "SP" -> ("SP", 1).
func splitCalcType(calcType string) (base string, n int) {
	m := calcTypeRe.FindStringSubmatch(calcType)
	if m == nil {
		return calcType, 1
	}
	base = m[1]
	if m[2] == "" {
		return base, 1
	}
	n, _ = strconv.Atoi(m[2])
	return base, n
}

// Label renders a (base, n) pair back into a calc-type token: no suffix
// for n<=1, the numeric suffix otherwise. This is the inverse of
// splitCalcType and is what gives repeated steps deterministic labels
// (OPT2, SP3, ...).
func Label(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s%d", base, n)
}

type successor struct {
	base string
	n    int
}

// fanOut implements the dependency table from spec.md §4.1 verbatim.
func fanOut(base string, n int) []successor {
	switch base {
	case "OPT":
		if n <= 1 {
			return []successor{{"SP", 1}, {"FREQ", 1}}
		}
		return []successor{{"SP", n}, {"FREQ", n}}
	case "SP":
		return []successor{{"BAND", n}, {"DOSS", n}, {"OPT", n + 1}}
	default:
		// FREQ, BAND, DOSS, TRANSPORT, CHARGE(+POTENTIAL) are leaves.
		return nil
	}
}

// Advance handles one completion event: (material, workflow, completed
// calculation). It emits every successor the plan's dependency rules and
// step sequence call for, skipping branches the plan omits and
// successors that already exist (idempotent per spec.md §5(c)).
func (e *Engine) Advance(ctx context.Context, wp models.WorkflowPlan, completed models.Calculation) error {
	base, n := splitCalcType(completed.CalcType)

	for _, succ := range fanOut(base, n) {
		label := Label(succ.base, succ.n)

		step, ok := planStepFor(wp, label)
		if !ok {
			continue // plan does not include this branch
		}

		exists, err := e.Store.ExistsSuccessor(completed.MaterialID, completed.WorkflowInstanceID, label)
		if err != nil {
			return fmt.Errorf("check existing successor %s for %s: %w", label, completed.MaterialID, err)
		}
		if exists {
			continue
		}

		if err := e.emit(ctx, wp, step, completed); err != nil {
			return err
		}
	}
	return nil
}

func planStepFor(wp models.WorkflowPlan, calcType string) (models.PlanStep, bool) {
	for _, s := range wp.Sequence {
		if s.CalcType == calcType {
			return s, true
		}
	}
	return models.PlanStep{}, false
}

func (e *Engine) emit(ctx context.Context, wp models.WorkflowPlan, step models.PlanStep, parent models.Calculation) error {
	newCalc := models.Calculation{
		ID:                 uuid.NewString(),
		MaterialID:         parent.MaterialID,
		WorkflowInstanceID: parent.WorkflowInstanceID,
		StepIndex:          step.StepIndex,
		CalcType:           step.CalcType,
		Status:             models.StatusPending,
		AttemptCounter:     1,
		ParentIDs:          []string{parent.ID},
		ConfigBlob:         "{}",
	}

	created, err := e.Store.CreateCalculation(newCalc)
	if err != nil {
		return fmt.Errorf("create calculation %s for %s: %w", step.CalcType, newCalc.MaterialID, err)
	}
	if !created {
		return nil // duplicate emission collapsed by the store's unique index
	}

	cfg, ok := wp.StepConfigs[step.ConfigHandle]
	if !ok {
		return fmt.Errorf("plan missing step configuration %q for step %d", step.ConfigHandle, step.StepIndex)
	}

	options := e.inheritOptions(cfg.Options, parent.ID)

	outDir := layout.StepDir(e.Config, newCalc.WorkflowInstanceID, step.StepIndex, step.CalcType, newCalc.MaterialID)
	genCfg := genclient.Config{
		CalcType:    step.CalcType,
		MaterialID:  newCalc.MaterialID,
		SourceFile:  parent.OutputPath,
		OutputDir:   outDir,
		Options:     options,
		OptionsFile: cfg.OptionsFile,
	}
	expected := layout.InputFile(outDir, newCalc.MaterialID, step.CalcType)

	if err := e.Generator.Generate(ctx, cfg.Source, genCfg, expected); err != nil {
		// Input-generation failures do not block unrelated branches
		// (spec.md §4.1 "Failure semantics"): the emitted step itself is
		// marked failed so recovery can retry it independently.
		return e.Store.MarkFailed(newCalc.ID, models.ErrInputGenerationFail, "")
	}
	return nil
}

// inheritOptions fills in a successor's functional and k-point grid from
// its parent's recorded input settings when the plan's own step
// configuration does not already specify them, so a chain like
// OPT -> SP -> BAND carries its functional forward without every step's
// plan config needing to repeat it (spec.md §4.6 inheritance).
func (e *Engine) inheritOptions(stepOptions map[string]interface{}, parentID string) map[string]interface{} {
	options := map[string]interface{}{}
	for k, v := range stepOptions {
		options[k] = v
	}

	parentSettings, err := e.Store.GetInputSettings(parentID)
	if err != nil {
		return options // parent recorded no settings; nothing to inherit
	}
	if _, ok := options["functional"]; !ok && parentSettings.Functional != "" {
		options["functional"] = parentSettings.Functional
	}
	if _, ok := options["k_point_grid"]; !ok && parentSettings.KPointGrid != "" {
		options["k_point_grid"] = parentSettings.KPointGrid
	}
	return options
}

// Seed creates a material's first calculation (the plan's step 0) from
// its original source file. It is idempotent: a material that already
// has a step-0 calculation for this workflow instance is left untouched,
// so re-running "submit" over the same source list never duplicates work.
func (e *Engine) Seed(ctx context.Context, wp models.WorkflowPlan, workflowInstanceID, materialID, sourceFile string) error {
	if len(wp.Sequence) == 0 {
		return fmt.Errorf("plan %s has an empty sequence", wp.ID)
	}
	step := wp.Sequence[0]

	exists, err := e.Store.ExistsSuccessor(materialID, workflowInstanceID, step.CalcType)
	if err != nil {
		return fmt.Errorf("check existing seed step for %s: %w", materialID, err)
	}
	if exists {
		return nil
	}

	newCalc := models.Calculation{
		ID:                 uuid.NewString(),
		MaterialID:         materialID,
		WorkflowInstanceID: workflowInstanceID,
		StepIndex:          step.StepIndex,
		CalcType:           step.CalcType,
		Status:             models.StatusPending,
		AttemptCounter:     1,
		ConfigBlob:         "{}",
	}
	created, err := e.Store.CreateCalculation(newCalc)
	if err != nil {
		return fmt.Errorf("create seed calculation for %s: %w", materialID, err)
	}
	if !created {
		return nil
	}

	cfg, ok := wp.StepConfigs[step.ConfigHandle]
	if !ok {
		return fmt.Errorf("plan missing step configuration %q for step %d", step.ConfigHandle, step.StepIndex)
	}

	outDir := layout.StepDir(e.Config, workflowInstanceID, step.StepIndex, step.CalcType, materialID)
	genCfg := genclient.Config{
		CalcType:    step.CalcType,
		MaterialID:  materialID,
		SourceFile:  sourceFile,
		OutputDir:   outDir,
		Options:     cfg.Options,
		OptionsFile: cfg.OptionsFile,
	}
	expected := layout.InputFile(outDir, materialID, step.CalcType)

	if err := e.Generator.Generate(ctx, cfg.Source, genCfg, expected); err != nil {
		return e.Store.MarkFailed(newCalc.ID, models.ErrInputGenerationFail, "")
	}
	return nil
}

// Reconcile is the pending-trigger scan (spec.md §4.5): for an active
// workflow instance and material, it finds the highest-index completed
// calculation and re-synthesizes a completion event if the expected
// successors are missing. It never raises a calculation's attempt
// counter.
func (e *Engine) Reconcile(ctx context.Context, workflowID, materialID string) error {
	wi, err := e.workflowInstance(workflowID)
	if err != nil {
		return err
	}
	wp, err := e.Store.GetPlan(wi.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", wi.PlanID, err)
	}

	completed, err := e.Store.ListCompleted(workflowID, materialID)
	if err != nil {
		return fmt.Errorf("list completed calculations for %s/%s: %w", workflowID, materialID, err)
	}
	if len(completed) == 0 {
		return nil
	}

	highest := completed[0] // ListCompleted orders step_index DESC
	for _, c := range completed {
		if c.StepIndex > highest.StepIndex {
			highest = c
		}
	}
	return e.Advance(ctx, wp, highest)
}

func (e *Engine) workflowInstance(workflowID string) (models.WorkflowInstance, error) {
	instances, err := e.Store.ListActiveWorkflowInstances()
	if err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("list active workflows: %w", err)
	}
	for _, wi := range instances {
		if wi.ID == workflowID {
			return wi, nil
		}
	}
	return models.WorkflowInstance{}, fmt.Errorf("workflow %s is not active", workflowID)
}

// ReconcileAll runs Reconcile for every material in every active
// workflow instance: the full pending-trigger scan. The "check" CLI
// command runs it; completion-mode ticks and "recover" do not.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	instances, err := e.Store.ListActiveWorkflowInstances()
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	for _, wi := range instances {
		for _, materialID := range wi.MaterialIDs {
			if err := e.Reconcile(ctx, wi.ID, materialID); err != nil {
				return fmt.Errorf("reconcile %s/%s: %w", wi.ID, materialID, err)
			}
		}
	}
	return nil
}
