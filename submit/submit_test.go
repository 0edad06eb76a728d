package submit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/scheduler"
)

type fakeStore struct {
	submittedID string
	jobID       string
}

func (f *fakeStore) MarkSubmitted(id, jobID string) error {
	f.submittedID = id
	f.jobID = jobID
	return nil
}

type fakeScheduler struct {
	failTimes int
	calls     int
}

func (f *fakeScheduler) Submit(ctx context.Context, scriptPath string) (string, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return "", errors.New("scheduler rejected job")
	}
	return "42", nil
}

func (f *fakeScheduler) Query(ctx context.Context, user string) (int, []scheduler.JobStatus, error) {
	return 0, nil, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error { return nil }

func samplePlan() (models.WorkflowPlan, map[string]models.ResourceProfile) {
	wp := models.WorkflowPlan{
		ID: "wf1",
		Sequence: []models.PlanStep{
			{StepIndex: 0, CalcType: "OPT", ResourceProfile: "standard", ConfigHandle: "OPT_0"},
		},
	}
	profiles := map[string]models.ResourceProfile{
		"standard": {Name: "standard", Cores: 16, MemoryGB: 64, Walltime: "24:00:00"},
	}
	return wp, profiles
}

func TestSubmitRendersScriptAndRecordsJobID(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base
	cfg.ScratchBase = filepath.Join(base, "scratch")

	store := &fakeStore{}
	sched := &fakeScheduler{}
	svc := NewService(store, sched, cfg)

	calc := models.Calculation{ID: "calc1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	wp, profiles := samplePlan()

	jobID, err := svc.Submit(context.Background(), wp, profiles, calc)
	require.NoError(t, err)
	require.Equal(t, "42", jobID)
	require.Equal(t, "calc1", store.submittedID)
	require.Equal(t, "42", store.jobID)

	scriptPath := filepath.Join(base, "workflow_outputs", "wf1", "step_000_OPT", "mat1", "mat1.sh")
	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "#SBATCH --ntasks=16")
	require.Contains(t, string(content), "--mode completion")
}

func TestSubmitDoesNotOverwriteAnExistingScript(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base
	cfg.ScratchBase = filepath.Join(base, "scratch")

	store := &fakeStore{}
	sched := &fakeScheduler{}
	svc := NewService(store, sched, cfg)

	calc := models.Calculation{ID: "calc1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	wp, profiles := samplePlan()

	scriptPath := filepath.Join(base, "workflow_outputs", "wf1", "step_000_OPT", "mat1", "mat1.sh")
	require.NoError(t, os.MkdirAll(filepath.Dir(scriptPath), 0o755))
	require.NoError(t, os.WriteFile(scriptPath, []byte("hand-edited sentinel"), 0o755))

	_, err := svc.Submit(context.Background(), wp, profiles, calc)
	require.NoError(t, err)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	require.Equal(t, "hand-edited sentinel", string(content))
}

func TestSubmitRetriesOnSchedulerFailure(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base
	cfg.ScratchBase = filepath.Join(base, "scratch")

	store := &fakeStore{}
	sched := &fakeScheduler{failTimes: 2}
	svc := NewService(store, sched, cfg)
	svc.RetryDelay = time.Millisecond

	calc := models.Calculation{ID: "calc1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	wp, profiles := samplePlan()

	jobID, err := svc.Submit(context.Background(), wp, profiles, calc)
	require.NoError(t, err)
	require.Equal(t, "42", jobID)
	require.Equal(t, 3, sched.calls)
}

func TestSubmitExhaustsRetries(t *testing.T) {
	base := t.TempDir()
	cfg := config.Defaults()
	cfg.BaseDir = base
	cfg.ScratchBase = filepath.Join(base, "scratch")

	store := &fakeStore{}
	sched := &fakeScheduler{failTimes: 99}
	svc := NewService(store, sched, cfg)
	svc.RetryDelay = time.Millisecond

	calc := models.Calculation{ID: "calc1", MaterialID: "mat1", WorkflowInstanceID: "wf1", StepIndex: 0, CalcType: "OPT"}
	wp, profiles := samplePlan()

	_, err := svc.Submit(context.Background(), wp, profiles, calc)
	require.Error(t, err)
	require.Equal(t, 3, sched.calls)
}
