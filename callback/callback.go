// Package callback implements the five-step completion pipeline a
// finished batch job runs through (spec.md §4.4): classify the solver
// output, register the artifacts it left behind, extract properties on
// success or hand the failure to recovery, advance the workflow state
// machine, and finally let the queue manager try to admit whatever just
// became eligible. Grounded on the teacher's multi-stage document
// ingestion pipeline in services/file_processor.go, generalized from a
// single processing stage to a five-stage completion handler.
package callback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/lewis-group/crystalmace/classify"
	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/extract"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/layout"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/queue"
	"github.com/lewis-group/crystalmace/recovery"
)

// Store is the subset of store.Store the completion pipeline needs.
type Store interface {
	MarkCompleted(id, outputPath string) error
	MarkFailed(id string, kind models.ErrorKind, outputPath string) error
	MarkTerminallyFailed(id string, lastAction models.RecoveryAction) error
	CreateRetry(predecessor models.Calculation, newID, configBlob string, action models.RecoveryAction) (models.Calculation, error)
	RegisterFile(f models.FileArtifact) (bool, error)
	RecordProperty(p models.Property) (bool, error)
	ListProperties(calculationID string) ([]models.Property, error)
	SetMaterialFormula(id, formula string, spaceGroup, dimensionality int) error
	UpsertInputSettings(in models.InputSettings) error
	GetPlan(id string) (models.WorkflowPlan, error)
	ListActiveWorkflowInstances() ([]models.WorkflowInstance, error)
}

// Engine is the subset of engine.Engine the pipeline depends on.
type Engine interface {
	Advance(ctx context.Context, wp models.WorkflowPlan, completed models.Calculation) error
}

// Generator regenerates an input file as part of a recovery retry.
// genclient.Client satisfies this.
type Generator interface {
	Generate(ctx context.Context, handle string, cfg genclient.Config, expectedOutput string) error
}

// Ticker is the subset of queue.Manager the pipeline invokes as the
// pipeline's final step: a best-effort admission tick so a newly
// eligible successor does not wait for the next scheduled tick.
type Ticker interface {
	Tick(ctx context.Context, opts queue.Options) (queue.Report, error)
}

// Pipeline runs Process for one finished calculation. It satisfies
// queue.CompletionProcessor, closing the loop spec.md §6.4 describes:
// a completion-mode tick drains recently finished jobs through this
// pipeline, whose last step is itself a tick.
type Pipeline struct {
	Store     Store
	Engine    Engine
	Generator Generator
	Ticker    Ticker
	Recovery  recovery.Table
	Config    config.Config
}

// Process runs the five-step completion pipeline against calc. It is
// safe to call more than once for the same calculation: file
// registration and property recording are idempotent at the store
// layer, and a calculation already past "submitted"/"running" is
// re-classified from the same solver output with the same result.
func (p *Pipeline) Process(ctx context.Context, calc models.Calculation) error {
	wp, err := p.loadPlan(calc.WorkflowInstanceID)
	if err != nil {
		return err
	}

	stepDir := layout.StepDir(p.Config, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	outputPath := layout.OutputFile(stepDir, calc.MaterialID)

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("read solver output %s: %w", outputPath, err)
	}
	solverOutput := string(raw)

	// submit.go renders #SBATCH --output= from the same work directory as
	// the solver output (SchedulerLogPattern is built from workDir, not
	// scratchDir), so the scheduler log lives alongside outputPath. It
	// only exists once the job carries a job ID.
	schedulerLogPath := ""
	schedulerLog := ""
	if calc.JobID != "" {
		schedulerLogPath = layout.SchedulerLogFile(stepDir, calc.MaterialID, calc.JobID)
		if logRaw, err := os.ReadFile(schedulerLogPath); err == nil {
			schedulerLog = string(logRaw)
		}
	}

	if err := p.registerArtifacts(calc, stepDir, outputPath, schedulerLogPath); err != nil {
		return err
	}

	// TIME LIMIT is scheduler-side output (the job was killed before the
	// solver wrote anything terminal to its own log), so it can only ever
	// be observed in the scheduler log, never in solverOutput alone.
	combinedOutput := solverOutput + "\n" + schedulerLog
	outcome := classify.Classify(combinedOutput)

	switch outcome.Status {
	case models.StatusCompleted:
		if err := p.onCompleted(ctx, wp, calc, solverOutput, outputPath); err != nil {
			return err
		}
	case models.StatusFailed:
		if err := p.onFailed(ctx, wp, calc, outcome.Kind, outputPath, combinedOutput); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected classification status %q for calculation %s", outcome.Status, calc.ID)
	}

	if p.Ticker != nil {
		if _, err := p.Ticker.Tick(ctx, queue.Options{
			WorkflowID: calc.WorkflowInstanceID,
			MaxJobs:    p.Config.MaxConcurrentJobs,
			Reserve:    p.Config.Reserve,
			MaxSubmit:  p.Config.MaxSubmit,
			Mode:       queue.ModePeriodic,
		}); err != nil {
			return fmt.Errorf("admission tick after completion of %s: %w", calc.ID, err)
		}
	}

	return nil
}

func (p *Pipeline) loadPlan(workflowID string) (models.WorkflowPlan, error) {
	instances, err := p.Store.ListActiveWorkflowInstances()
	if err != nil {
		return models.WorkflowPlan{}, fmt.Errorf("list active workflows: %w", err)
	}
	for _, wi := range instances {
		if wi.ID != workflowID {
			continue
		}
		wp, err := p.Store.GetPlan(wi.PlanID)
		if err != nil {
			return models.WorkflowPlan{}, fmt.Errorf("load plan %s: %w", wi.PlanID, err)
		}
		return wp, nil
	}
	return models.WorkflowPlan{}, fmt.Errorf("workflow %s is not active", workflowID)
}

// registerArtifacts records every file the step directory is expected to
// hold: the solver output always, the wavefunction and scheduler log
// opportunistically.
func (p *Pipeline) registerArtifacts(calc models.Calculation, stepDir, outputPath, schedulerLogPath string) error {
	if err := p.registerOne(calc.ID, outputPath, models.FileSolverOutput); err != nil {
		return err
	}

	wavefunction := layout.WavefunctionFile(stepDir, calc.MaterialID)
	if _, err := os.Stat(wavefunction); err == nil {
		if err := p.registerOne(calc.ID, wavefunction, models.FileWavefunction); err != nil {
			return err
		}
	}

	if schedulerLogPath != "" {
		if _, err := os.Stat(schedulerLogPath); err == nil {
			if err := p.registerOne(calc.ID, schedulerLogPath, models.FileLog); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) registerOne(calculationID, path string, kind models.FileKind) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact %s: %w", path, err)
	}
	hash, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hash artifact %s: %w", path, err)
	}
	_, err = p.Store.RegisterFile(models.FileArtifact{
		ID:            uuid.NewString(),
		CalculationID: calculationID,
		Path:          path,
		Kind:          kind,
		ContentHash:   hash,
		SizeBytes:     info.Size(),
	})
	if err != nil {
		return fmt.Errorf("register artifact %s: %w", path, err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// calcTypeBaseRe strips a calc type's numeric repeat suffix, e.g.
// "BAND2" -> "BAND", mirroring engine.splitCalcType (unexported there,
// so duplicated here rather than exported just for this one caller).
var calcTypeBaseRe = regexp.MustCompile(`^([A-Za-z]+)\d*$`)

func baseCalcType(calcType string) string {
	m := calcTypeBaseRe.FindStringSubmatch(calcType)
	if m == nil {
		return calcType
	}
	return m[1]
}

// onCompleted extracts properties, records them, marks the calculation
// completed, and advances the workflow state machine.
func (p *Pipeline) onCompleted(ctx context.Context, wp models.WorkflowPlan, calc models.Calculation, solverOutput, outputPath string) error {
	if err := p.Store.MarkCompleted(calc.ID, outputPath); err != nil {
		return fmt.Errorf("mark %s completed: %w", calc.ID, err)
	}
	calc.Status = models.StatusCompleted
	calc.OutputPath = outputPath

	base := baseCalcType(calc.CalcType)
	if (base == "BAND" || base == "DOSS") && len(calc.ParentIDs) > 0 {
		// BAND/DOSS steps run against the parent SP's converged
		// wavefunction and do not themselves redetermine geometry or
		// energy, so their geometry properties are copies of the
		// parent's, marked inherited (spec.md §4.6).
		if err := p.inheritProperties(calc); err != nil {
			return err
		}
	} else {
		geometry := extract.ParseGeometry(solverOutput)
		for _, prop := range extract.ToProperties(calc.ID, geometry, false) {
			prop.ID = uuid.NewString()
			if _, err := p.Store.RecordProperty(prop); err != nil {
				return fmt.Errorf("record property %s for %s: %w", prop.Name, calc.ID, err)
			}
		}
	}

	if base == "BAND" {
		if err := p.recordEffectiveMass(calc); err != nil {
			return err
		}
	}

	if err := p.recordMaterialInfo(solverOutput, calc.MaterialID); err != nil {
		return err
	}

	if err := p.recordInputSettings(wp, calc); err != nil {
		return err
	}

	if err := p.Engine.Advance(ctx, wp, calc); err != nil {
		return fmt.Errorf("advance workflow after %s: %w", calc.ID, err)
	}
	return nil
}

// inheritProperties copies the parent SP calculation's extracted geometry
// and energy properties onto a BAND/DOSS step, each with a fresh ID and
// Inherited set so they are never mistaken for this step's own
// determination (spec.md §4.6).
func (p *Pipeline) inheritProperties(calc models.Calculation) error {
	parentID := calc.ParentIDs[0]
	parentProps, err := p.Store.ListProperties(parentID)
	if err != nil {
		return fmt.Errorf("list parent properties %s for %s: %w", parentID, calc.ID, err)
	}
	for _, parent := range parentProps {
		prop := parent
		prop.ID = uuid.NewString()
		prop.CalculationID = calc.ID
		prop.Inherited = true
		if _, err := p.Store.RecordProperty(prop); err != nil {
			return fmt.Errorf("record inherited property %s for %s: %w", prop.Name, calc.ID, err)
		}
	}
	return nil
}

// recordEffectiveMass parses the auxiliary band-data file a BAND step
// writes alongside its solver output and, when a parabola fits its
// curvature, records the implied electron effective mass (spec.md §4.6
// "Sources": auxiliary band/DOSS/transport data files).
func (p *Pipeline) recordEffectiveMass(calc models.Calculation) error {
	stepDir := layout.StepDir(p.Config, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	bandDataPath := layout.BandDataFile(stepDir, calc.MaterialID)
	raw, err := os.ReadFile(bandDataPath)
	if err != nil {
		return nil // auxiliary band data is optional; its absence is not a pipeline failure
	}

	mass := extract.EffectiveMass(extract.ParseBandData(string(raw)))
	if mass == nil {
		return nil
	}

	_, err = p.Store.RecordProperty(models.Property{
		ID:            uuid.NewString(),
		CalculationID: calc.ID,
		Name:          "electron_effective_mass_real",
		ScalarValue:   mass,
		Unit:          "m_e",
		Category:      models.CategoryElectronic,
	})
	if err != nil {
		return fmt.Errorf("record effective mass for %s: %w", calc.ID, err)
	}
	return nil
}

// recordMaterialInfo extracts the formula/space-group/dimensionality
// fields from solverOutput and writes them onto the material row.
// SetMaterialFormula's first-writer-wins SQL makes this safe to call
// after every completed calculation, not just the first.
func (p *Pipeline) recordMaterialInfo(solverOutput, materialID string) error {
	info := extract.ParseMaterialInfo(solverOutput)
	if info.Formula == "" && info.SpaceGroup == 0 && info.Dimensionality == 0 {
		return nil
	}
	if err := p.Store.SetMaterialFormula(materialID, info.Formula, info.SpaceGroup, info.Dimensionality); err != nil {
		return fmt.Errorf("set material formula for %s: %w", materialID, err)
	}
	return nil
}

// recordInputSettings mines the calculation's own generated input file
// for provenance (method, basis, tolerances, functional, k-points), and
// for a BAND step condenses the plan's configured path segments into the
// settings row's KPathLabel (spec.md §4.6).
func (p *Pipeline) recordInputSettings(wp models.WorkflowPlan, calc models.Calculation) error {
	stepDir := layout.StepDir(p.Config, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	inputPath := layout.InputFile(stepDir, calc.MaterialID, calc.CalcType)
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil // no input file survives to mine settings from
	}
	in := extract.ParseInputSettings(calc.ID, string(raw))

	if baseCalcType(calc.CalcType) == "BAND" {
		if step, ok := stepFor(wp, calc.CalcType); ok {
			if stepCfg, ok := wp.StepConfigs[step.ConfigHandle]; ok {
				in.KPathLabel = extract.CondenseBandPath(bandPathSegments(stepCfg.Options))
			}
		}
	}

	if err := p.Store.UpsertInputSettings(in); err != nil {
		return fmt.Errorf("upsert input settings for %s: %w", calc.ID, err)
	}
	return nil
}

// bandPathSegments reads a BAND step's "band_path" option (a JSON array
// of two-letter segment tokens, e.g. ["XG", "GL"]) out of its plan
// configuration.
func bandPathSegments(options map[string]interface{}) []string {
	raw, ok := options["band_path"].([]interface{})
	if !ok {
		return nil
	}
	segments := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			segments = append(segments, s)
		}
	}
	return segments
}

// onFailed consults the recovery table for kind and either spawns a
// retry with the remediation applied or moves the calculation to
// terminally_failed once the kind's attempt budget is exhausted
// (spec.md §4.7).
func (p *Pipeline) onFailed(ctx context.Context, wp models.WorkflowPlan, calc models.Calculation, kind models.ErrorKind, outputPath, failureText string) error {
	if err := p.Store.MarkFailed(calc.ID, kind, outputPath); err != nil {
		return fmt.Errorf("mark %s failed: %w", calc.ID, err)
	}

	rule, exhausted := p.Recovery.Decide(kind, calc.AttemptCounter)
	if exhausted || rule.Action == models.ActionTerminal {
		return p.Store.MarkTerminallyFailed(calc.ID, rule.Action)
	}

	params, err := recovery.Escalate(kind, calc.ConfigBlob, failureText)
	if err != nil {
		return fmt.Errorf("escalate recovery params for %s: %w", calc.ID, err)
	}
	// An operator's explicit rule.Params (from the recovery rule file)
	// wins over the computed escalation on key collision.
	for k, v := range rule.Params {
		params[k] = v
	}

	configBlob, err := applyRecoveryParams(calc.ConfigBlob, params)
	if err != nil {
		return fmt.Errorf("apply recovery params to %s: %w", calc.ID, err)
	}

	retry, err := p.Store.CreateRetry(calc, uuid.NewString(), configBlob, rule.Action)
	if err != nil {
		return fmt.Errorf("create retry for %s: %w", calc.ID, err)
	}

	return p.regenerateInput(ctx, wp, retry)
}

// regenerateInput re-runs the step's generator against the retry's
// bumped configuration, so the new attempt's input file reflects the
// recovery action (e.g. a raised max_cycle or a coarser k-mesh) before
// it is ever submitted.
func (p *Pipeline) regenerateInput(ctx context.Context, wp models.WorkflowPlan, retry models.Calculation) error {
	step, ok := stepFor(wp, retry.CalcType)
	if !ok {
		return fmt.Errorf("plan has no step configuration for retried calc type %s", retry.CalcType)
	}
	stepCfg, ok := wp.StepConfigs[step.ConfigHandle]
	if !ok {
		return fmt.Errorf("plan missing step configuration %q", step.ConfigHandle)
	}

	options := map[string]interface{}{}
	for k, v := range stepCfg.Options {
		options[k] = v
	}
	var blob map[string]interface{}
	if err := json.Unmarshal([]byte(retry.ConfigBlob), &blob); err == nil {
		for k, v := range blob {
			options[k] = v
		}
	}

	outDir := layout.StepDir(p.Config, retry.WorkflowInstanceID, step.StepIndex, step.CalcType, retry.MaterialID)
	genCfg := genclient.Config{
		CalcType:    step.CalcType,
		MaterialID:  retry.MaterialID,
		OutputDir:   outDir,
		Options:     options,
		OptionsFile: stepCfg.OptionsFile,
	}
	expected := layout.InputFile(outDir, retry.MaterialID, step.CalcType)

	if err := p.Generator.Generate(ctx, stepCfg.Source, genCfg, expected); err != nil {
		return p.Store.MarkFailed(retry.ID, models.ErrInputGenerationFail, "")
	}
	return nil
}

// applyRecoveryParams merges a recovery rule's parameters into the
// predecessor's config blob, producing the retry's effective settings.
// Rule params win over inherited settings on key collision.
func applyRecoveryParams(predecessorBlob string, params map[string]interface{}) (string, error) {
	merged := map[string]interface{}{}
	if strings.TrimSpace(predecessorBlob) != "" {
		if err := json.Unmarshal([]byte(predecessorBlob), &merged); err != nil {
			return "", fmt.Errorf("unmarshal predecessor config blob: %w", err)
		}
	}
	for k, v := range params {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshal merged config blob: %w", err)
	}
	return string(out), nil
}

func stepFor(wp models.WorkflowPlan, calcType string) (models.PlanStep, bool) {
	for _, s := range wp.Sequence {
		if s.CalcType == calcType {
			return s, true
		}
	}
	return models.PlanStep{}, false
}
