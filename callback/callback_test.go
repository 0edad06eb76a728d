package callback

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/layout"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/queue"
	"github.com/lewis-group/crystalmace/recovery"
)

type fakeStore struct {
	plans             map[string]models.WorkflowPlan
	instances         []models.WorkflowInstance
	completedID       string
	failedID          string
	failedKind        models.ErrorKind
	terminallyFailed  string
	registered        []models.FileArtifact
	recorded          []models.Property
	retryConfigBlob   string
	retryAction       models.RecoveryAction
	retryCreated      models.Calculation
	properties        map[string][]models.Property // calculationID -> properties, for ListProperties
	materialFormula   string
	materialSpaceGrp  int
	materialDim       int
	inputSettings     []models.InputSettings
}

func (f *fakeStore) MarkCompleted(id, outputPath string) error {
	f.completedID = id
	return nil
}

func (f *fakeStore) MarkFailed(id string, kind models.ErrorKind, outputPath string) error {
	f.failedID = id
	f.failedKind = kind
	return nil
}

func (f *fakeStore) MarkTerminallyFailed(id string, action models.RecoveryAction) error {
	f.terminallyFailed = id
	return nil
}

func (f *fakeStore) CreateRetry(predecessor models.Calculation, newID, configBlob string, action models.RecoveryAction) (models.Calculation, error) {
	f.retryConfigBlob = configBlob
	f.retryAction = action
	f.retryCreated = models.Calculation{
		ID:                 newID,
		MaterialID:         predecessor.MaterialID,
		WorkflowInstanceID: predecessor.WorkflowInstanceID,
		StepIndex:          predecessor.StepIndex,
		CalcType:           predecessor.CalcType,
		AttemptCounter:     predecessor.AttemptCounter + 1,
		ConfigBlob:         configBlob,
	}
	return f.retryCreated, nil
}

func (f *fakeStore) RegisterFile(a models.FileArtifact) (bool, error) {
	f.registered = append(f.registered, a)
	return true, nil
}

func (f *fakeStore) RecordProperty(p models.Property) (bool, error) {
	f.recorded = append(f.recorded, p)
	return true, nil
}

func (f *fakeStore) ListProperties(calculationID string) ([]models.Property, error) {
	return f.properties[calculationID], nil
}

func (f *fakeStore) SetMaterialFormula(id, formula string, spaceGroup, dimensionality int) error {
	f.materialFormula = formula
	f.materialSpaceGrp = spaceGroup
	f.materialDim = dimensionality
	return nil
}

func (f *fakeStore) UpsertInputSettings(in models.InputSettings) error {
	f.inputSettings = append(f.inputSettings, in)
	return nil
}

func (f *fakeStore) GetPlan(id string) (models.WorkflowPlan, error) {
	return f.plans[id], nil
}

func (f *fakeStore) ListActiveWorkflowInstances() ([]models.WorkflowInstance, error) {
	return f.instances, nil
}

type fakeEngine struct {
	advanced   bool
	lastCompleted models.Calculation
}

func (f *fakeEngine) Advance(ctx context.Context, wp models.WorkflowPlan, completed models.Calculation) error {
	f.advanced = true
	f.lastCompleted = completed
	return nil
}

type fakeGenerator struct{ called bool }

func (f *fakeGenerator) Generate(ctx context.Context, handle string, cfg genclient.Config, expectedOutput string) error {
	f.called = true
	return os.WriteFile(expectedOutput, []byte("regenerated"), 0o644)
}

type fakeTicker struct{ calls int }

func (f *fakeTicker) Tick(ctx context.Context, opts queue.Options) (queue.Report, error) {
	f.calls++
	return queue.Report{}, nil
}

func samplePlanAndCalc(t *testing.T, base, calcType string) (models.WorkflowPlan, models.Calculation) {
	wp := models.WorkflowPlan{
		ID: "plan1",
		Sequence: []models.PlanStep{
			{StepIndex: 0, CalcType: "OPT", ResourceProfile: "standard", ConfigHandle: "OPT_0"},
		},
		StepConfigs: map[string]models.StepConfig{
			"OPT_0": {Source: "cif2d12"},
		},
	}
	calc := models.Calculation{
		ID:                 "calc1",
		MaterialID:         "mat1",
		WorkflowInstanceID: "wf1",
		StepIndex:          0,
		CalcType:           calcType,
		Status:             models.StatusRunning,
		AttemptCounter:     1,
		ConfigBlob:         "{}",
	}
	return wp, calc
}

func writeOutput(t *testing.T, cfg config.Config, calc models.Calculation, body string) {
	t.Helper()
	stepDir := layout.StepDir(cfg, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	require.NoError(t, os.MkdirAll(stepDir, 0o755))
	outPath := layout.OutputFile(stepDir, calc.MaterialID)
	require.NoError(t, os.WriteFile(outPath, []byte(body), 0o644))
}

func TestProcessCompletedExtractsPropertiesAndAdvances(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	writeOutput(t, cfg, calc, "CELL VOLUME (A**3) 123.4\nENDED - TOTAL CPU TIME 00:01:00")

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	engine := &fakeEngine{}
	ticker := &fakeTicker{}

	p := &Pipeline{
		Store:    store,
		Engine:   engine,
		Ticker:   ticker,
		Recovery: recovery.Defaults(),
		Config:   cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)
	require.Equal(t, "calc1", store.completedID)
	require.True(t, engine.advanced)
	require.NotEmpty(t, store.recorded)
	require.NotEmpty(t, store.registered)
	require.Equal(t, 1, ticker.calls)
}

func TestProcessFailedRetriesWithinBudget(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	writeOutput(t, cfg, calc, "TOO MANY CYCLES IN SCF")

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	engine := &fakeEngine{}
	gen := &fakeGenerator{}
	ticker := &fakeTicker{}

	p := &Pipeline{
		Store:     store,
		Engine:    engine,
		Generator: gen,
		Ticker:    ticker,
		Recovery:  recovery.Defaults(),
		Config:    cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)
	require.Equal(t, "calc1", store.failedID)
	require.Equal(t, models.ErrSCFNotConverged, store.failedKind)
	require.Empty(t, store.terminallyFailed)
	require.Equal(t, models.ActionBumpMaxCycle, store.retryAction)
	require.True(t, gen.called)
	require.False(t, engine.advanced)
}

func TestProcessFailedExhaustedGoesTerminal(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	calc.AttemptCounter = 1
	writeOutput(t, cfg, calc, "SMALL INTERATOMIC DISTANCE")

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	p := &Pipeline{
		Store:    store,
		Engine:   &fakeEngine{},
		Ticker:   &fakeTicker{},
		Recovery: recovery.Defaults(),
		Config:   cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)
	require.Equal(t, models.ErrGeometryCollision, store.failedKind)
	require.Equal(t, "calc1", store.terminallyFailed)
	require.Empty(t, store.retryConfigBlob)
}

func TestProcessFailedRetryBumpsMaxCycle(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	calc.ConfigBlob = `{"max_cycle": 200}`
	writeOutput(t, cfg, calc, "TOO MANY CYCLES IN SCF")

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	p := &Pipeline{
		Store:     store,
		Engine:    &fakeEngine{},
		Generator: &fakeGenerator{},
		Ticker:    &fakeTicker{},
		Recovery:  recovery.Defaults(),
		Config:    cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)

	var blob map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(store.retryConfigBlob), &blob))
	require.Equal(t, float64(300), blob["max_cycle"], "retry's max_cycle must be strictly larger than its predecessor's")
}

func TestProcessCompletedBANDInheritsParentPropertiesAndRecordsEffectiveMass(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp := models.WorkflowPlan{
		ID: "plan1",
		Sequence: []models.PlanStep{
			{StepIndex: 0, CalcType: "BAND", ResourceProfile: "standard", ConfigHandle: "BAND_0"},
		},
		StepConfigs: map[string]models.StepConfig{
			"BAND_0": {Source: "sp2band", Options: map[string]interface{}{
				"band_path": []interface{}{"XG", "GL"},
			}},
		},
	}
	calc := models.Calculation{
		ID:                 "band1",
		MaterialID:         "mat1",
		WorkflowInstanceID: "wf1",
		StepIndex:          0,
		CalcType:           "BAND",
		Status:             models.StatusRunning,
		AttemptCounter:     1,
		ConfigBlob:         "{}",
		ParentIDs:          []string{"sp1"},
	}
	writeOutput(t, cfg, calc, "ENDED - TOTAL CPU TIME 00:01:00")

	stepDir := layout.StepDir(cfg, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	bandData := "0.00 1.000\n0.10 1.050\n0.20 1.000\n"
	require.NoError(t, os.WriteFile(layout.BandDataFile(stepDir, calc.MaterialID), []byte(bandData), 0o644))

	energy := 42.0
	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
		properties: map[string][]models.Property{
			"sp1": {{ID: "p1", CalculationID: "sp1", Name: "total_energy", ScalarValue: &energy, Inherited: false}},
		},
	}
	p := &Pipeline{
		Store:    store,
		Engine:   &fakeEngine{},
		Ticker:   &fakeTicker{},
		Recovery: recovery.Defaults(),
		Config:   cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)

	var inherited, effectiveMass bool
	for _, prop := range store.recorded {
		if prop.Name == "total_energy" {
			require.True(t, prop.Inherited, "BAND's copy of the parent's property must be marked inherited")
			require.Equal(t, "band1", prop.CalculationID)
			inherited = true
		}
		if prop.Name == "electron_effective_mass_real" {
			require.False(t, prop.Inherited)
			require.NotNil(t, prop.ScalarValue)
			effectiveMass = true
		}
	}
	require.True(t, inherited, "expected the parent's total_energy to be copied onto the BAND calculation")
	require.True(t, effectiveMass, "expected electron_effective_mass_real to be computed from the band data file")
}

func TestProcessCompletedRecordsMaterialFormula(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	writeOutput(t, cfg, calc, "CHEMICAL FORMULA  SI2 O4\nSPACE GROUP (N. 227)\nDIMENSIONALITY OF THE SYSTEM 3\nENDED - TOTAL CPU TIME 00:01:00")

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	p := &Pipeline{
		Store:    store,
		Engine:   &fakeEngine{},
		Ticker:   &fakeTicker{},
		Recovery: recovery.Defaults(),
		Config:   cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)
	require.Equal(t, "SI2", store.materialFormula)
	require.Equal(t, 227, store.materialSpaceGrp)
	require.Equal(t, 3, store.materialDim)
}

func TestProcessRegistersWavefunctionWhenPresent(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base

	wp, calc := samplePlanAndCalc(t, base, "OPT")
	writeOutput(t, cfg, calc, "ENDED - TOTAL CPU TIME 00:01:00")

	stepDir := layout.StepDir(cfg, calc.WorkflowInstanceID, calc.StepIndex, calc.CalcType, calc.MaterialID)
	require.NoError(t, os.WriteFile(filepath.Join(stepDir, calc.MaterialID+".f9"), []byte("wavefn"), 0o644))

	store := &fakeStore{
		plans:     map[string]models.WorkflowPlan{"plan1": wp},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	p := &Pipeline{
		Store:    store,
		Engine:   &fakeEngine{},
		Ticker:   &fakeTicker{},
		Recovery: recovery.Defaults(),
		Config:   cfg,
	}

	err := p.Process(context.Background(), calc)
	require.NoError(t, err)

	var kinds []models.FileKind
	for _, f := range store.registered {
		kinds = append(kinds, f.Kind)
	}
	require.Contains(t, kinds, models.FileSolverOutput)
	require.Contains(t, kinds, models.FileWavefunction)
}
