// Package queue implements the admission-control tick (spec.md §4.3):
// periodic, completion, and status-report modes over the scheduler's
// current occupancy and the store's pending calculations. Grounded on
// the teacher's worker/stats loop in services/file_processor.go
// (QueueJob dedup, GetJobStats) generalized from a single in-process job
// queue to scheduler-backed admission control.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/lewis-group/crystalmace/config"
	"github.com/lewis-group/crystalmace/models"
	"github.com/lewis-group/crystalmace/scheduler"
)

// Mode selects the tick's behavior (spec.md §4.3 "Modes").
type Mode string

const (
	ModePeriodic   Mode = "periodic"
	ModeCompletion Mode = "completion"
	ModeStatus     Mode = "status"
)

// Store is the subset of store.Store the queue manager depends on.
type Store interface {
	ListPending(workflowID string) ([]models.Calculation, error)
	ListRecentlyFinished(workflowID string, since time.Time) ([]models.Calculation, error)
	GetPlan(id string) (models.WorkflowPlan, error)
	ListActiveWorkflowInstances() ([]models.WorkflowInstance, error)
	WithAdvisoryLock(name, holder string, fn func() error) error
}

// Submitter is the subset of submit.Service the tick depends on.
type Submitter interface {
	Submit(ctx context.Context, wp models.WorkflowPlan, profiles map[string]models.ResourceProfile, calc models.Calculation) (string, error)
}

// CompletionProcessor runs the completion-callback pipeline (spec.md
// §4.4) for one finished calculation. callback.Pipeline satisfies this
// without queue importing the callback package, which in turn invokes
// the queue manager — the CLI wires both concrete types together.
type CompletionProcessor interface {
	Process(ctx context.Context, calc models.Calculation) error
}

// Manager drives admission ticks.
type Manager struct {
	Store     Store
	Scheduler scheduler.Scheduler
	Submitter Submitter
	Callback  CompletionProcessor
	Config    config.Config
	// ResourceProfiles, keyed by workflow ID, supplies the per-plan
	// resource-profile table loaded from the plan file alongside it.
	ResourceProfiles map[string]map[string]models.ResourceProfile
}

// Options bounds a single tick invocation (spec.md §4.3 "tick(max_jobs,
// reserve, max_submit, mode)").
type Options struct {
	WorkflowID string // restrict the tick to one workflow; empty means every active workflow
	MaxJobs    int
	Reserve    int
	MaxSubmit  int
	Mode       Mode
}

// Report is returned by every tick: a status-mode tick fills Active and
// Pending, the other modes fill Active and Submitted.
type Report struct {
	Active    int
	Pending   int
	Submitted int
}

// Tick runs one admission cycle. completion mode first drains the
// recently-finished jobs for opts.WorkflowID through the completion
// pipeline (spec.md §4.4), then falls through to the same admission
// logic as periodic mode. status mode performs no writes.
func (m *Manager) Tick(ctx context.Context, opts Options) (Report, error) {
	if opts.Mode == ModeCompletion {
		if err := m.drainRecentlyFinished(ctx, opts.WorkflowID); err != nil {
			return Report{}, fmt.Errorf("drain recently finished jobs: %w", err)
		}
	}

	active, _, err := m.Scheduler.Query(ctx, "")
	if err != nil {
		return Report{}, fmt.Errorf("query scheduler occupancy: %w", err)
	}

	if opts.Mode == ModeStatus {
		pending, err := m.countPending(opts.WorkflowID)
		if err != nil {
			return Report{}, err
		}
		return Report{Active: active, Pending: pending}, nil
	}

	var submitted int
	lockName := "tick:" + opts.WorkflowID
	err = m.Store.WithAdvisoryLock(lockName, "queue-manager", func() error {
		n, err := m.admit(ctx, opts, active)
		submitted = n
		return err
	})
	if err != nil {
		return Report{}, err
	}
	return Report{Active: active, Submitted: submitted}, nil
}

func (m *Manager) countPending(workflowID string) (int, error) {
	pending, err := m.Store.ListPending(workflowID)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	return len(pending), nil
}

// admit implements "available = max_jobs - reserve - active; select up
// to min(available, max_submit)" and submits each selected calculation
// in FIFO order. Backpressure: if available <= 0, nothing is submitted
// and no error is raised.
func (m *Manager) admit(ctx context.Context, opts Options, active int) (int, error) {
	available := opts.MaxJobs - opts.Reserve - active
	if available <= 0 {
		return 0, nil
	}
	budget := available
	if opts.MaxSubmit > 0 && opts.MaxSubmit < budget {
		budget = opts.MaxSubmit
	}

	pending, err := m.Store.ListPending(opts.WorkflowID)
	if err != nil {
		return 0, fmt.Errorf("list pending calculations: %w", err)
	}

	submittedCount := 0
	planCache := map[string]models.WorkflowPlan{}
	for _, calc := range pending {
		if submittedCount >= budget {
			break
		}
		if !eligible(calc) {
			continue
		}

		wp, ok := planCache[calc.WorkflowInstanceID]
		if !ok {
			instance, err := m.instanceFor(calc.WorkflowInstanceID)
			if err != nil {
				return submittedCount, err
			}
			wp, err = m.Store.GetPlan(instance.PlanID)
			if err != nil {
				return submittedCount, fmt.Errorf("load plan %s: %w", instance.PlanID, err)
			}
			planCache[calc.WorkflowInstanceID] = wp
		}

		profiles := m.ResourceProfiles[calc.WorkflowInstanceID]
		if _, err := m.Submitter.Submit(ctx, wp, profiles, calc); err != nil {
			// JobSubmissionError never blocks the rest of the tick
			// (spec.md §4.2): the calculation stays pending and is
			// retried on a subsequent tick.
			continue
		}
		submittedCount++
	}
	return submittedCount, nil
}

// eligible reports whether a calculation is still pending. Dependency
// readiness is not re-checked here: the engine creates a calculation
// only once the step it depends on has completed.
func eligible(c models.Calculation) bool {
	return c.Status == models.StatusPending
}

func (m *Manager) instanceFor(workflowID string) (models.WorkflowInstance, error) {
	instances, err := m.Store.ListActiveWorkflowInstances()
	if err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("list active workflows: %w", err)
	}
	for _, wi := range instances {
		if wi.ID == workflowID {
			return wi, nil
		}
	}
	return models.WorkflowInstance{}, fmt.Errorf("workflow %s not found among active instances", workflowID)
}

func (m *Manager) drainRecentlyFinished(ctx context.Context, workflowID string) error {
	since := time.Now().Add(-1 * time.Hour)
	finished, err := m.Store.ListRecentlyFinished(workflowID, since)
	if err != nil {
		return fmt.Errorf("list recently finished: %w", err)
	}
	for _, calc := range finished {
		if err := m.Callback.Process(ctx, calc); err != nil {
			return fmt.Errorf("process completion for %s: %w", calc.ID, err)
		}
	}
	return nil
}
