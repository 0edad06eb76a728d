package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePlan = `{
  "workflow_id": "wf_20260101_000000",
  "input_type": "cif",
  "workflow_sequence": ["OPT", "SP", "FREQ", "BAND", "DOSS"],
  "step_configurations": {
    "OPT_0": {"source": "cif2d12"},
    "SP_1": {"source": "opt2sp"},
    "FREQ_2": {"source": "opt2freq"},
    "BAND_3": {"source": "sp2band"},
    "DOSS_4": {"source": "sp2doss"}
  },
  "execution_settings": {"max_concurrent_jobs": 50, "enable_material_tracking": true},
  "resource_profiles": {
    "OPT": {"name": "standard", "cores": 16, "memory_gb": 64, "walltime": "24:00:00"},
    "BAND": {"name": "light", "cores": 8, "memory_gb": 32, "walltime": "04:00:00"}
  }
}`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidPlan(t *testing.T) {
	l, err := Load(writePlan(t, samplePlan))
	require.NoError(t, err)
	require.Equal(t, "wf_20260101_000000", l.Plan.ID)
	require.Len(t, l.Plan.Sequence, 5)
	require.Equal(t, "standard", l.Plan.Sequence[0].ResourceProfile)
	require.Equal(t, "light", l.Plan.Sequence[3].ResourceProfile)
	// No profile for SP: falls back to the calc type as its own profile name.
	require.Equal(t, "SP", l.Plan.Sequence[1].ResourceProfile)
}

func TestLoadRejectsMissingStepConfiguration(t *testing.T) {
	bad := `{
		"workflow_id": "wf1",
		"input_type": "cif",
		"workflow_sequence": ["OPT"],
		"step_configurations": {},
		"execution_settings": {"max_concurrent_jobs": 10}
	}`
	_, err := Load(writePlan(t, bad))
	require.Error(t, err)
}

func TestLoadRejectsInvalidInputType(t *testing.T) {
	bad := `{
		"workflow_id": "wf1",
		"input_type": "xyz",
		"workflow_sequence": ["OPT"],
		"step_configurations": {"OPT_0": {"source": "x"}},
		"execution_settings": {"max_concurrent_jobs": 10}
	}`
	_, err := Load(writePlan(t, bad))
	require.Error(t, err)
}

func TestIndexOfType(t *testing.T) {
	l, err := Load(writePlan(t, samplePlan))
	require.NoError(t, err)

	idx, ok := IndexOfType(l.Plan, "BAND")
	require.True(t, ok)
	require.Equal(t, 3, idx)

	_, ok = IndexOfType(l.Plan, "TRANSPORT")
	require.False(t, ok)
}
