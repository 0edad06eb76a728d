package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lewis-group/crystalmace/models"
)

// CreatePlan persists a new, immutable WorkflowPlan. Plans are append-only:
// callers that need to change a plan must mint a new plan ID (invariant 6).
func (s *Store) CreatePlan(p models.WorkflowPlan) error {
	seqJSON, err := json.Marshal(p.Sequence)
	if err != nil {
		return fmt.Errorf("marshal plan sequence: %w", err)
	}
	stepJSON, err := json.Marshal(p.StepConfigs)
	if err != nil {
		return fmt.Errorf("marshal step configs: %w", err)
	}
	execJSON, err := json.Marshal(p.ExecutionSettings)
	if err != nil {
		return fmt.Errorf("marshal execution settings: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO workflow_plans (id, input_type, sequence_json, step_configs_json, execution_settings_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.InputType, string(seqJSON), string(stepJSON), string(execJSON), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan fetches a plan by ID.
func (s *Store) GetPlan(id string) (models.WorkflowPlan, error) {
	var p models.WorkflowPlan
	var seqJSON, stepJSON, execJSON string

	row := s.db.QueryRow(
		`SELECT id, input_type, sequence_json, step_configs_json, execution_settings_json, created_at
		 FROM workflow_plans WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.InputType, &seqJSON, &stepJSON, &execJSON, &p.CreatedAt); err != nil {
		return models.WorkflowPlan{}, err
	}
	if err := json.Unmarshal([]byte(seqJSON), &p.Sequence); err != nil {
		return models.WorkflowPlan{}, fmt.Errorf("unmarshal plan sequence: %w", err)
	}
	if err := json.Unmarshal([]byte(stepJSON), &p.StepConfigs); err != nil {
		return models.WorkflowPlan{}, fmt.Errorf("unmarshal step configs: %w", err)
	}
	if err := json.Unmarshal([]byte(execJSON), &p.ExecutionSettings); err != nil {
		return models.WorkflowPlan{}, fmt.Errorf("unmarshal execution settings: %w", err)
	}
	return p, nil
}

// CreateWorkflowInstance persists a new workflow instance binding a plan to
// a set of materials.
func (s *Store) CreateWorkflowInstance(w models.WorkflowInstance) error {
	materialsJSON, err := json.Marshal(w.MaterialIDs)
	if err != nil {
		return fmt.Errorf("marshal material ids: %w", err)
	}
	maxReached := w.MaxReachedStep
	if maxReached == nil {
		maxReached = map[string]int{}
	}
	maxJSON, err := json.Marshal(maxReached)
	if err != nil {
		return fmt.Errorf("marshal max reached: %w", err)
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err = s.db.Exec(
		`INSERT INTO workflow_instances (id, plan_id, material_ids_json, status, max_reached_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.PlanID, string(materialsJSON), string(w.Status), string(maxJSON), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance %s: %w", w.ID, err)
	}
	return nil
}

// GetWorkflowInstance fetches a workflow instance by ID.
func (s *Store) GetWorkflowInstance(id string) (models.WorkflowInstance, error) {
	var w models.WorkflowInstance
	var materialsJSON, maxJSON, status string

	row := s.db.QueryRow(
		`SELECT id, plan_id, material_ids_json, status, max_reached_json, created_at, updated_at
		 FROM workflow_instances WHERE id = ?`, id)
	if err := row.Scan(&w.ID, &w.PlanID, &materialsJSON, &status, &maxJSON, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return models.WorkflowInstance{}, err
	}
	w.Status = models.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(materialsJSON), &w.MaterialIDs); err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("unmarshal material ids: %w", err)
	}
	if err := json.Unmarshal([]byte(maxJSON), &w.MaxReachedStep); err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("unmarshal max reached: %w", err)
	}
	return w, nil
}

// ListActiveWorkflowInstances returns all workflow instances in "active" status.
func (s *Store) ListActiveWorkflowInstances() ([]models.WorkflowInstance, error) {
	rows, err := s.db.Query(`SELECT id FROM workflow_instances WHERE status = ?`, string(models.WorkflowActive))
	if err != nil {
		return nil, fmt.Errorf("query active workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var out []models.WorkflowInstance
	for _, id := range ids {
		w, err := s.GetWorkflowInstance(id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// SetWorkflowMaxReachedStep updates the highest plan step index reached for
// a material within a workflow instance.
func (s *Store) SetWorkflowMaxReachedStep(workflowID, materialID string, stepIndex int) error {
	w, err := s.GetWorkflowInstance(workflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if w.MaxReachedStep == nil {
		w.MaxReachedStep = map[string]int{}
	}
	if existing, ok := w.MaxReachedStep[materialID]; ok && existing >= stepIndex {
		return nil
	}
	w.MaxReachedStep[materialID] = stepIndex

	maxJSON, err := json.Marshal(w.MaxReachedStep)
	if err != nil {
		return fmt.Errorf("marshal max reached: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE workflow_instances SET max_reached_json = ?, updated_at = ? WHERE id = ?`,
		string(maxJSON), time.Now(), workflowID,
	)
	return err
}

// SetWorkflowStatus transitions a workflow instance's status.
func (s *Store) SetWorkflowStatus(workflowID string, status models.WorkflowStatus) error {
	res, err := s.db.Exec(
		`UPDATE workflow_instances SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), workflowID,
	)
	if err != nil {
		return fmt.Errorf("update workflow %s status: %w", workflowID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
