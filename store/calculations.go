package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lewis-group/crystalmace/models"
)

// CreateCalculation inserts a new calculation row in "pending" status.
// Re-emitting a calculation that already exists for the same
// (material, workflow, step index, attempt counter) is a no-op: the
// unique index enforces invariant 2 and ON CONFLICT DO NOTHING makes
// successor-emission idempotent (testable property 2/5).
func (s *Store) CreateCalculation(c models.Calculation) (created bool, err error) {
	parentsJSON, err := json.Marshal(c.ParentIDs)
	if err != nil {
		return false, fmt.Errorf("marshal parent ids: %w", err)
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.AttemptCounter == 0 {
		c.AttemptCounter = 1
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.ConfigBlob == "" {
		c.ConfigBlob = "{}"
	}

	res, err := s.db.Exec(
		`INSERT INTO calculations
			(id, material_id, workflow_instance_id, step_index, calc_type, status,
			 attempt_counter, config_blob, parent_ids_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(material_id, workflow_instance_id, step_index, attempt_counter) DO NOTHING`,
		c.ID, c.MaterialID, c.WorkflowInstanceID, c.StepIndex, c.CalcType, string(c.Status),
		c.AttemptCounter, c.ConfigBlob, string(parentsJSON), c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert calculation %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for calculation %s: %w", c.ID, err)
	}
	return n > 0, nil
}

// GetCalculation fetches a calculation row by ID.
func (s *Store) GetCalculation(id string) (models.Calculation, error) {
	row := s.db.QueryRow(calcSelectCols()+` WHERE id = ?`, id)
	return scanCalculation(row)
}

// FindCalculation looks up a calculation by its natural identity.
func (s *Store) FindCalculation(materialID, workflowID string, stepIndex, attempt int) (models.Calculation, error) {
	row := s.db.QueryRow(
		calcSelectCols()+` WHERE material_id = ? AND workflow_instance_id = ? AND step_index = ? AND attempt_counter = ?`,
		materialID, workflowID, stepIndex, attempt,
	)
	return scanCalculation(row)
}

// ExistsSuccessor reports whether a calculation of calcType already exists
// (in any state, including completed, failed, terminally failed and
// cancelled attempts) for the given material/workflow, regardless of attempt
// counter — used by the engine to avoid duplicate emission.
func (s *Store) ExistsSuccessor(materialID, workflowID, calcType string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM calculations
		 WHERE material_id = ? AND workflow_instance_id = ? AND calc_type = ?`,
		materialID, workflowID, calcType,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check successor exists: %w", err)
	}
	return n > 0, nil
}

// ListByWorkflowMaterial returns all calculations for a material within a
// workflow instance, ordered by step index then attempt counter.
func (s *Store) ListByWorkflowMaterial(workflowID, materialID string) ([]models.Calculation, error) {
	rows, err := s.db.Query(
		calcSelectCols()+` WHERE workflow_instance_id = ? AND material_id = ? ORDER BY step_index, attempt_counter`,
		workflowID, materialID,
	)
	if err != nil {
		return nil, fmt.Errorf("list calculations for %s/%s: %w", workflowID, materialID, err)
	}
	defer rows.Close()
	return scanCalculations(rows)
}

// ListPending returns calculations in "pending" status ordered FIFO by
// creation time, the order in which the queue manager admits them.
func (s *Store) ListPending(workflowID string) ([]models.Calculation, error) {
	query := calcSelectCols() + ` WHERE status = ?`
	args := []interface{}{string(models.StatusPending)}
	if workflowID != "" {
		query += ` AND workflow_instance_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending calculations: %w", err)
	}
	defer rows.Close()
	return scanCalculations(rows)
}

// ListRecentlyFinished returns calculations that finished (completed or
// failed) within the lookback window for a workflow, used by completion-
// mode ticks to process recently-ended jobs before running admission.
func (s *Store) ListRecentlyFinished(workflowID string, since time.Time) ([]models.Calculation, error) {
	rows, err := s.db.Query(
		calcSelectCols()+` WHERE workflow_instance_id = ? AND status IN (?, ?) AND finished_at >= ? ORDER BY finished_at ASC`,
		workflowID, string(models.StatusCompleted), string(models.StatusFailed), since,
	)
	if err != nil {
		return nil, fmt.Errorf("list recently finished calculations: %w", err)
	}
	defer rows.Close()
	return scanCalculations(rows)
}

// ListCompleted returns all completed calculations for a material within a
// workflow, the set the pending-trigger scan inspects to find the
// highest-index completed step (spec §4.5).
func (s *Store) ListCompleted(workflowID, materialID string) ([]models.Calculation, error) {
	rows, err := s.db.Query(
		calcSelectCols()+` WHERE workflow_instance_id = ? AND material_id = ? AND status = ? ORDER BY step_index DESC`,
		workflowID, materialID, string(models.StatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("list completed calculations: %w", err)
	}
	defer rows.Close()
	return scanCalculations(rows)
}

// CountActiveForUser mirrors the scheduler's own notion of "active jobs":
// calculations this control plane has submitted and not yet observed as
// finished. The queue manager does not call it: it takes occupancy from
// the live scheduler query only, and a failed query fails the tick.
func (s *Store) CountActiveForUser(workflowID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM calculations WHERE status IN (?, ?) AND (? = '' OR workflow_instance_id = ?)`,
		string(models.StatusSubmitted), string(models.StatusRunning), workflowID, workflowID,
	).Scan(&n)
	return n, err
}

// MarkSubmitted transitions a calculation from pending to submitted with
// the scheduler's returned job ID. Re-submitting an already-submitted
// calculation is a no-op (idempotent per spec §5).
func (s *Store) MarkSubmitted(id, jobID string) error {
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE calculations SET status = ?, job_id = ?, submitted_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.StatusSubmitted), jobID, now, id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark calculation %s submitted: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either already submitted (no-op) or not in pending state; the
		// caller is responsible for deciding whether that is an error.
		return nil
	}
	return nil
}

// MarkRunning transitions a submitted calculation to running.
func (s *Store) MarkRunning(id string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE calculations SET status = ?, running_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusRunning), now, id, string(models.StatusSubmitted),
	)
	if err != nil {
		return fmt.Errorf("mark calculation %s running: %w", id, err)
	}
	return nil
}

// MarkCompleted transitions a calculation to completed and records its
// solver output path.
func (s *Store) MarkCompleted(id, outputPath string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE calculations SET status = ?, output_path = ?, finished_at = ? WHERE id = ?`,
		string(models.StatusCompleted), outputPath, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark calculation %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed transitions a calculation to failed with its classified
// error kind and solver output path.
func (s *Store) MarkFailed(id string, kind models.ErrorKind, outputPath string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE calculations SET status = ?, error_kind = ?, output_path = ?, finished_at = ? WHERE id = ?`,
		string(models.StatusFailed), string(kind), outputPath, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark calculation %s failed: %w", id, err)
	}
	return nil
}

// MarkTerminallyFailed moves a calculation to terminally_failed, recording
// the last recovery action attempted (or "terminal" if none applies).
func (s *Store) MarkTerminallyFailed(id string, lastAction models.RecoveryAction) error {
	_, err := s.db.Exec(
		`UPDATE calculations SET status = ?, last_recovery_action = ? WHERE id = ?`,
		string(models.StatusTerminallyFailed), string(lastAction), id,
	)
	if err != nil {
		return fmt.Errorf("mark calculation %s terminally failed: %w", id, err)
	}
	return nil
}

// MarkCancelled moves a pending calculation to cancelled.
func (s *Store) MarkCancelled(id string) error {
	_, err := s.db.Exec(
		`UPDATE calculations SET status = ? WHERE id = ? AND status = ?`,
		string(models.StatusCancelled), id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("cancel calculation %s: %w", id, err)
	}
	return nil
}

// CancelPendingForMaterial cancels every pending calculation for a
// material, used by the CLI's "cancel" command.
func (s *Store) CancelPendingForMaterial(materialID string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE calculations SET status = ? WHERE material_id = ? AND status = ?`,
		string(models.StatusCancelled), materialID, string(models.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending for material %s: %w", materialID, err)
	}
	return res.RowsAffected()
}

// CancelPendingForWorkflow cancels every pending calculation belonging to
// a workflow instance, used by the CLI's "cancel" command when given a
// workflow rather than a single material.
func (s *Store) CancelPendingForWorkflow(workflowInstanceID string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE calculations SET status = ? WHERE workflow_instance_id = ? AND status = ?`,
		string(models.StatusCancelled), workflowInstanceID, string(models.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending for workflow %s: %w", workflowInstanceID, err)
	}
	return res.RowsAffected()
}

// CreateRetry inserts a new calculation row for the same step index as
// predecessor, with a strictly greater attempt counter and the predecessor
// recorded as its parent. The effective config blob is supplied by the
// caller (recovery's action application).
func (s *Store) CreateRetry(predecessor models.Calculation, newID, configBlob string, action models.RecoveryAction) (models.Calculation, error) {
	next := models.Calculation{
		ID:                 newID,
		MaterialID:         predecessor.MaterialID,
		WorkflowInstanceID: predecessor.WorkflowInstanceID,
		StepIndex:          predecessor.StepIndex,
		CalcType:           predecessor.CalcType,
		Status:             models.StatusPending,
		AttemptCounter:     predecessor.AttemptCounter + 1,
		ConfigBlob:         configBlob,
		ParentIDs:          predecessor.ParentIDs,
		LastRecoveryAction: action,
		CreatedAt:          time.Now(),
	}
	created, err := s.CreateCalculation(next)
	if err != nil {
		return models.Calculation{}, err
	}
	if !created {
		// Duplicate recovery trigger: collapse to the existing row.
		return s.FindCalculation(next.MaterialID, next.WorkflowInstanceID, next.StepIndex, next.AttemptCounter)
	}
	return next, nil
}

func calcSelectCols() string {
	return `SELECT id, material_id, workflow_instance_id, step_index, calc_type, status, job_id,
		attempt_counter, config_blob, parent_ids_json, error_kind, last_recovery_action, output_path,
		created_at, submitted_at, running_at, finished_at
	FROM calculations`
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCalculation(row scanner) (models.Calculation, error) {
	var c models.Calculation
	var status, parentsJSON string
	var jobID, errorKind, lastAction, outputPath sql.NullString
	var submittedAt, runningAt, finishedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.MaterialID, &c.WorkflowInstanceID, &c.StepIndex, &c.CalcType, &status, &jobID,
		&c.AttemptCounter, &c.ConfigBlob, &parentsJSON, &errorKind, &lastAction, &outputPath,
		&c.CreatedAt, &submittedAt, &runningAt, &finishedAt,
	)
	if err != nil {
		return models.Calculation{}, err
	}

	c.Status = models.CalculationStatus(status)
	c.JobID = jobID.String
	c.ErrorKind = models.ErrorKind(errorKind.String)
	c.LastRecoveryAction = models.RecoveryAction(lastAction.String)
	c.OutputPath = outputPath.String
	if submittedAt.Valid {
		t := submittedAt.Time
		c.SubmittedAt = &t
	}
	if runningAt.Valid {
		t := runningAt.Time
		c.RunningAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		c.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(parentsJSON), &c.ParentIDs); err != nil {
		return models.Calculation{}, fmt.Errorf("unmarshal parent ids for %s: %w", c.ID, err)
	}
	return c, nil
}

func scanCalculations(rows *sql.Rows) ([]models.Calculation, error) {
	var out []models.Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
