package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/scheduler"
)

type fakeStore struct {
	pending   []models.Calculation
	plans     map[string]models.WorkflowPlan
	instances []models.WorkflowInstance
	finished  []models.Calculation
}

func (f *fakeStore) ListPending(workflowID string) ([]models.Calculation, error) {
	return f.pending, nil
}

func (f *fakeStore) ListRecentlyFinished(workflowID string, since time.Time) ([]models.Calculation, error) {
	return f.finished, nil
}

func (f *fakeStore) GetPlan(id string) (models.WorkflowPlan, error) {
	return f.plans[id], nil
}

func (f *fakeStore) ListActiveWorkflowInstances() ([]models.WorkflowInstance, error) {
	return f.instances, nil
}

func (f *fakeStore) WithAdvisoryLock(name, holder string, fn func() error) error {
	return fn()
}

type fakeScheduler struct{ active int }

func (f *fakeScheduler) Submit(ctx context.Context, scriptPath string) (string, error) { return "1", nil }
func (f *fakeScheduler) Query(ctx context.Context, user string) (int, []scheduler.JobStatus, error) {
	return f.active, nil, nil
}
func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error { return nil }

type fakeSubmitter struct{ calls []string }

func (f *fakeSubmitter) Submit(ctx context.Context, wp models.WorkflowPlan, profiles map[string]models.ResourceProfile, calc models.Calculation) (string, error) {
	f.calls = append(f.calls, calc.ID)
	return "job-" + calc.ID, nil
}

func newManager(store *fakeStore, sched *fakeScheduler, sub *fakeSubmitter) *Manager {
	return &Manager{
		Store:     store,
		Scheduler: sched,
		Submitter: sub,
		Config:    config.Defaults(),
	}
}

func TestTickRespectsAvailableBudget(t *testing.T) {
	store := &fakeStore{
		pending: []models.Calculation{
			{ID: "c1", WorkflowInstanceID: "wf1", Status: models.StatusPending},
			{ID: "c2", WorkflowInstanceID: "wf1", Status: models.StatusPending},
			{ID: "c3", WorkflowInstanceID: "wf1", Status: models.StatusPending},
		},
		plans:     map[string]models.WorkflowPlan{"plan1": {ID: "plan1"}},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	sched := &fakeScheduler{active: 0}
	sub := &fakeSubmitter{}
	m := newManager(store, sched, sub)

	report, err := m.Tick(context.Background(), Options{MaxJobs: 2, Reserve: 0, MaxSubmit: 10, Mode: ModePeriodic})
	require.NoError(t, err)
	require.Equal(t, 2, report.Submitted)
	require.Len(t, sub.calls, 2)
}

func TestTickBackpressureSubmitsNothing(t *testing.T) {
	store := &fakeStore{
		pending: []models.Calculation{{ID: "c1", WorkflowInstanceID: "wf1", Status: models.StatusPending}},
	}
	sched := &fakeScheduler{active: 100}
	sub := &fakeSubmitter{}
	m := newManager(store, sched, sub)

	report, err := m.Tick(context.Background(), Options{MaxJobs: 100, Reserve: 5, MaxSubmit: 10, Mode: ModePeriodic})
	require.NoError(t, err)
	require.Equal(t, 0, report.Submitted)
	require.Empty(t, sub.calls)
}

func TestTickStatusModeIsReadOnly(t *testing.T) {
	store := &fakeStore{
		pending: []models.Calculation{{ID: "c1", WorkflowInstanceID: "wf1", Status: models.StatusPending}},
	}
	sched := &fakeScheduler{active: 7}
	sub := &fakeSubmitter{}
	m := newManager(store, sched, sub)

	report, err := m.Tick(context.Background(), Options{Mode: ModeStatus, WorkflowID: "wf1"})
	require.NoError(t, err)
	require.Equal(t, 7, report.Active)
	require.Equal(t, 1, report.Pending)
	require.Empty(t, sub.calls)
}

func TestTickRespectsMaxSubmitCap(t *testing.T) {
	store := &fakeStore{
		pending: []models.Calculation{
			{ID: "c1", WorkflowInstanceID: "wf1", Status: models.StatusPending},
			{ID: "c2", WorkflowInstanceID: "wf1", Status: models.StatusPending},
		},
		plans:     map[string]models.WorkflowPlan{"plan1": {ID: "plan1"}},
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
	}
	sched := &fakeScheduler{active: 0}
	sub := &fakeSubmitter{}
	m := newManager(store, sched, sub)

	report, err := m.Tick(context.Background(), Options{MaxJobs: 100, Reserve: 0, MaxSubmit: 1, Mode: ModePeriodic})
	require.NoError(t, err)
	require.Equal(t, 1, report.Submitted)
}
