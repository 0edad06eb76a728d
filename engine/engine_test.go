package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/genclient"
	"github.com/lewis-group/crystalmace/models"
)

type fakeStore struct {
	created       []models.Calculation
	existing      map[string]bool // calcType keys that already exist
	failed        map[string]models.ErrorKind
	plans         map[string]models.WorkflowPlan
	completed     map[string][]models.Calculation // workflowID/materialID -> completed calcs
	activeWFs     []models.WorkflowInstance
	inputSettings map[string]models.InputSettings // calculationID -> settings
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:      map[string]bool{},
		failed:        map[string]models.ErrorKind{},
		plans:         map[string]models.WorkflowPlan{},
		inputSettings: map[string]models.InputSettings{},
	}
}

func (f *fakeStore) ExistsSuccessor(materialID, workflowID, calcType string) (bool, error) {
	return f.existing[calcType], nil
}

func (f *fakeStore) CreateCalculation(c models.Calculation) (bool, error) {
	f.created = append(f.created, c)
	return true, nil
}

func (f *fakeStore) MarkFailed(id string, kind models.ErrorKind, outputPath string) error {
	f.failed[id] = kind
	return nil
}

func (f *fakeStore) ListCompleted(workflowID, materialID string) ([]models.Calculation, error) {
	return f.completed[workflowID+"/"+materialID], nil
}

func (f *fakeStore) ListByWorkflowMaterial(workflowID, materialID string) ([]models.Calculation, error) {
	return nil, nil
}

func (f *fakeStore) ListActiveWorkflowInstances() ([]models.WorkflowInstance, error) {
	return f.activeWFs, nil
}

func (f *fakeStore) GetPlan(id string) (models.WorkflowPlan, error) {
	return f.plans[id], nil
}

func (f *fakeStore) GetInputSettings(calculationID string) (models.InputSettings, error) {
	if in, ok := f.inputSettings[calculationID]; ok {
		return in, nil
	}
	return models.InputSettings{}, sql.ErrNoRows
}

type fakeGenerator struct {
	fail    bool
	configs map[string]genclient.Config // calcType -> config passed for it
}

func (g *fakeGenerator) Generate(ctx context.Context, handle string, cfg genclient.Config, expectedOutput string) error {
	if g.configs == nil {
		g.configs = map[string]genclient.Config{}
	}
	g.configs[cfg.CalcType] = cfg
	if g.fail {
		return errors.New("generator failed")
	}
	return nil
}

func samplePlan() models.WorkflowPlan {
	return models.WorkflowPlan{
		ID: "wf1",
		Sequence: []models.PlanStep{
			{StepIndex: 0, CalcType: "OPT", ConfigHandle: "OPT_0"},
			{StepIndex: 1, CalcType: "SP", ConfigHandle: "SP_1"},
			{StepIndex: 2, CalcType: "FREQ", ConfigHandle: "FREQ_2"},
			{StepIndex: 3, CalcType: "BAND", ConfigHandle: "BAND_3"},
			{StepIndex: 4, CalcType: "DOSS", ConfigHandle: "DOSS_4"},
		},
		StepConfigs: map[string]models.StepConfig{
			"OPT_0":  {Source: "cif2d12"},
			"SP_1":   {Source: "opt2sp"},
			"FREQ_2": {Source: "opt2freq"},
			"BAND_3": {Source: "sp2band"},
			"DOSS_4": {Source: "sp2doss"},
		},
	}
}

func TestAdvanceOPTEmitsSPAndFREQ(t *testing.T) {
	store := newFakeStore()
	eng := New(store, &fakeGenerator{}, config.Defaults())

	completed := models.Calculation{ID: "c1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT", OutputPath: "out.out"}
	require.NoError(t, eng.Advance(context.Background(), samplePlan(), completed))

	var types []string
	for _, c := range store.created {
		types = append(types, c.CalcType)
	}
	require.ElementsMatch(t, []string{"SP", "FREQ"}, types)
}

func TestAdvanceSPEmitsBANDDOSSAndNextOPT(t *testing.T) {
	store := newFakeStore()
	wp := samplePlan()
	// Add OPT2 to the sequence so the SP->OPTn+1 branch has somewhere to land.
	wp.Sequence = append(wp.Sequence, models.PlanStep{StepIndex: 5, CalcType: "OPT2", ConfigHandle: "OPT2_5"})
	wp.StepConfigs["OPT2_5"] = models.StepConfig{Source: "sp2opt"}

	eng := New(store, &fakeGenerator{}, config.Defaults())
	completed := models.Calculation{ID: "c2", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 1, CalcType: "SP"}
	require.NoError(t, eng.Advance(context.Background(), wp, completed))

	var types []string
	for _, c := range store.created {
		types = append(types, c.CalcType)
	}
	require.ElementsMatch(t, []string{"BAND", "DOSS", "OPT2"}, types)
}

func TestAdvanceSkipsBranchNotInPlan(t *testing.T) {
	store := newFakeStore()
	wp := samplePlan() // no OPT2 entry
	eng := New(store, &fakeGenerator{}, config.Defaults())

	completed := models.Calculation{ID: "c2", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 1, CalcType: "SP"}
	require.NoError(t, eng.Advance(context.Background(), wp, completed))

	var types []string
	for _, c := range store.created {
		types = append(types, c.CalcType)
	}
	require.ElementsMatch(t, []string{"BAND", "DOSS"}, types, "OPT2 is omitted since the plan sequence never includes it")
}

func TestAdvanceSkipsExistingSuccessor(t *testing.T) {
	store := newFakeStore()
	store.existing["SP"] = true
	eng := New(store, &fakeGenerator{}, config.Defaults())

	completed := models.Calculation{ID: "c1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	require.NoError(t, eng.Advance(context.Background(), samplePlan(), completed))

	var types []string
	for _, c := range store.created {
		types = append(types, c.CalcType)
	}
	require.ElementsMatch(t, []string{"FREQ"}, types)
}

func TestLeafCalcTypesEmitNothing(t *testing.T) {
	store := newFakeStore()
	eng := New(store, &fakeGenerator{}, config.Defaults())

	for _, leaf := range []string{"FREQ", "BAND", "DOSS", "TRANSPORT", "CHARGE"} {
		completed := models.Calculation{ID: "leaf", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 9, CalcType: leaf}
		require.NoError(t, eng.Advance(context.Background(), samplePlan(), completed))
	}
	require.Empty(t, store.created)
}

func TestAdvanceInheritsFunctionalAndKPointGridFromParent(t *testing.T) {
	store := newFakeStore()
	store.inputSettings["c1"] = models.InputSettings{CalculationID: "c1", Functional: "PBE0", KPointGrid: "8 8 8"}
	gen := &fakeGenerator{}
	eng := New(store, gen, config.Defaults())

	completed := models.Calculation{ID: "c1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	require.NoError(t, eng.Advance(context.Background(), samplePlan(), completed))

	require.Equal(t, "PBE0", gen.configs["SP"].Options["functional"])
	require.Equal(t, "8 8 8", gen.configs["SP"].Options["k_point_grid"])
}

func TestAdvanceStepOptionsOverridesInheritedSettings(t *testing.T) {
	store := newFakeStore()
	store.inputSettings["c1"] = models.InputSettings{CalculationID: "c1", Functional: "PBE0"}
	wp := samplePlan()
	wp.StepConfigs["SP_1"] = models.StepConfig{Source: "opt2sp", Options: map[string]interface{}{"functional": "B3LYP"}}
	gen := &fakeGenerator{}
	eng := New(store, gen, config.Defaults())

	completed := models.Calculation{ID: "c1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	require.NoError(t, eng.Advance(context.Background(), wp, completed))

	require.Equal(t, "B3LYP", gen.configs["SP"].Options["functional"])
}

func TestSplitAndLabelRoundTrip(t *testing.T) {
	cases := []struct {
		calcType string
		base     string
		n        int
	}{
		{"OPT", "OPT", 1},
		{"OPT2", "OPT", 2},
		{"SP3", "SP", 3},
	}
	for _, c := range cases {
		base, n := splitCalcType(c.calcType)
		require.Equal(t, c.base, base)
		require.Equal(t, c.n, n)
		require.Equal(t, c.calcType, Label(base, n))
	}
}
