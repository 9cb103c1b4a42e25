package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/constants"
	"github.com/peoplecore/backend/pkg/utils"
)

// InstanceRepository handles database operations for workflow instances and
// step executions. It implements ports.InstanceStore. DecideStep carries the
// status-guarded update every transition races through.
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository creates a new InstanceRepository
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const instanceColumns = "id, tenant_id, rule_id, process_type, entity_type, entity_id, subject_id, steps_snapshot, current_step, total_steps, status, created_date, last_modified_date"

const executionColumns = "id, instance_id, tenant_id, step_order, approver_id, status, decided_by, comment, due_date, created_date, decided_date"

// CreateInstance inserts a new workflow instance with its rule snapshot.
func (r *InstanceRepository) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	if instance.ID == "" {
		instance.ID = utils.GenerateID()
	}

	snapshot, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps snapshot: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, constants.TableWorkflowInstance, instanceColumns)

	exec := executorFrom(ctx, r.db)
	_, err = exec.ExecContext(ctx, query,
		instance.ID, instance.TenantID, instance.RuleID, instance.ProcessType,
		instance.EntityType, instance.EntityID, instance.SubjectID,
		snapshot, instance.CurrentStep, instance.TotalSteps, instance.Status)
	if err != nil {
		return fmt.Errorf("failed to insert workflow instance: %w", err)
	}
	return nil
}

// GetInstance returns one instance by id within a tenant, or nil when not found.
func (r *InstanceRepository) GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND id = ?
	`, instanceColumns, constants.TableWorkflowInstance)

	exec := executorFrom(ctx, r.db)
	instance, err := scanInstance(exec.QueryRowContext(ctx, query, tenantID, instanceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow instance: %w", err)
	}
	return instance, nil
}

// UpdateInstanceProgress moves the instance to a new current step and status.
// Only valid while the instance is still InProgress; the guard keeps a racing
// terminal transition from being overwritten.
func (r *InstanceRepository) UpdateInstanceProgress(ctx context.Context, instanceID string, currentStep int, status string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET current_step = ?, status = ?, last_modified_date = NOW()
		WHERE id = ? AND status = ?
	`, constants.TableWorkflowInstance)

	exec := executorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, currentStep, status, instanceID, constants.InstanceStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to update instance progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("instance %s is no longer in progress", instanceID)
	}
	return nil
}

// CreateStepExecution inserts a new step execution record.
func (r *InstanceRepository) CreateStepExecution(ctx context.Context, stepExec *models.StepExecution) error {
	if stepExec.ID == "" {
		stepExec.ID = utils.GenerateID()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, instance_id, tenant_id, step_order, approver_id, status, decided_by, comment, due_date, created_date, decided_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), ?)
	`, constants.TableStepExecution)

	exec := executorFrom(ctx, r.db)
	_, err := exec.ExecContext(ctx, query,
		stepExec.ID, stepExec.InstanceID, stepExec.TenantID, stepExec.StepOrder,
		stepExec.ApproverID, stepExec.Status, stepExec.DecidedBy, stepExec.Comment,
		stepExec.DueDate, stepExec.DecidedDate)
	if err != nil {
		return fmt.Errorf("failed to insert step execution: %w", err)
	}
	return nil
}

// GetStepExecution returns the execution for one step of an instance, or nil.
func (r *InstanceRepository) GetStepExecution(ctx context.Context, instanceID string, stepOrder int) (*models.StepExecution, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE instance_id = ? AND step_order = ?
	`, executionColumns, constants.TableStepExecution)

	exec := executorFrom(ctx, r.db)
	stepExec, err := scanExecution(exec.QueryRowContext(ctx, query, instanceID, stepOrder))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query step execution: %w", err)
	}
	return stepExec, nil
}

// ListStepExecutions returns all executions of an instance in step order.
func (r *InstanceRepository) ListStepExecutions(ctx context.Context, instanceID string) ([]models.StepExecution, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE instance_id = ?
		ORDER BY step_order ASC
	`, executionColumns, constants.TableStepExecution)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	var execs []models.StepExecution
	for rows.Next() {
		stepExec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		execs = append(execs, *stepExec)
	}
	return execs, rows.Err()
}

// DecideStep transitions an execution from Pending to toStatus only if it is
// still Pending at write time. The status guard plus RowsAffected is the
// compare-and-swap that keeps a manual decision and a concurrent auto-advance
// from both claiming the same step.
func (r *InstanceRepository) DecideStep(ctx context.Context, executionID, toStatus, decidedBy, comment string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, decided_by = ?, comment = ?, decided_date = NOW()
		WHERE id = ? AND status = ?
	`, constants.TableStepExecution)

	exec := executorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, toStatus, decidedBy, comment, executionID, constants.StepStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to decide step execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListPendingByApprover returns the pending executions assigned to one
// approver, newest first, with their instances.
func (r *InstanceRepository) ListPendingByApprover(ctx context.Context, tenantID, approverID string, limit int) ([]ports.DueStepExecution, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM %s e
		JOIN %s i ON i.id = e.instance_id
		WHERE e.tenant_id = ? AND e.approver_id = ? AND e.status = ?
		ORDER BY e.created_date DESC
		LIMIT ?
	`, prefixColumns("e", executionColumns), prefixColumns("i", instanceColumns),
		constants.TableStepExecution, constants.TableWorkflowInstance)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, tenantID, approverID, constants.StepStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	return scanDueExecutions(rows)
}

// ListInstancesByEntity returns the approval history of one business entity,
// newest first.
func (r *InstanceRepository) ListInstancesByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*models.WorkflowInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY created_date DESC
	`, instanceColumns, constants.TableWorkflowInstance)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by entity: %w", err)
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// ListDueStepExecutions returns pending executions whose auto-advance due
// date has passed, oldest first, joined with their in-progress instances.
func (r *InstanceRepository) ListDueStepExecutions(ctx context.Context, now time.Time, limit int) ([]ports.DueStepExecution, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM %s e
		JOIN %s i ON i.id = e.instance_id
		WHERE e.status = ? AND e.due_date IS NOT NULL AND e.due_date <= ? AND i.status = ?
		ORDER BY e.due_date ASC
		LIMIT ?
	`, prefixColumns("e", executionColumns), prefixColumns("i", instanceColumns),
		constants.TableStepExecution, constants.TableWorkflowInstance)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, constants.StepStatusPending, now, constants.InstanceStatusInProgress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due step executions: %w", err)
	}
	defer rows.Close()

	return scanDueExecutions(rows)
}

func scanDueExecutions(rows *sql.Rows) ([]ports.DueStepExecution, error) {
	var due []ports.DueStepExecution
	for rows.Next() {
		var d ports.DueStepExecution
		if err := scanExecutionInto(rows, &d.Execution, &d.Instance); err != nil {
			return nil, fmt.Errorf("failed to scan due execution: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance
	var snapshot []byte
	if err := row.Scan(&instance.ID, &instance.TenantID, &instance.RuleID, &instance.ProcessType,
		&instance.EntityType, &instance.EntityID, &instance.SubjectID,
		&snapshot, &instance.CurrentStep, &instance.TotalSteps, &instance.Status,
		&instance.CreatedDate, &instance.LastModifiedDate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &instance.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps snapshot: %w", err)
	}
	return &instance, nil
}

func scanExecution(row rowScanner) (*models.StepExecution, error) {
	var stepExec models.StepExecution
	if err := scanExecutionFields(row, &stepExec, nil); err != nil {
		return nil, err
	}
	return &stepExec, nil
}

func scanExecutionInto(row rowScanner, stepExec *models.StepExecution, instance *models.WorkflowInstance) error {
	return scanExecutionFields(row, stepExec, instance)
}

// scanExecutionFields scans an execution row and, when instance is non-nil,
// the joined instance columns that follow it.
func scanExecutionFields(row rowScanner, stepExec *models.StepExecution, instance *models.WorkflowInstance) error {
	var approver, decidedBy, comment sql.NullString
	var dueDate, decidedDate sql.NullTime

	dest := []interface{}{
		&stepExec.ID, &stepExec.InstanceID, &stepExec.TenantID, &stepExec.StepOrder,
		&approver, &stepExec.Status, &decidedBy, &comment, &dueDate,
		&stepExec.CreatedDate, &decidedDate,
	}

	var snapshot []byte
	if instance != nil {
		dest = append(dest,
			&instance.ID, &instance.TenantID, &instance.RuleID, &instance.ProcessType,
			&instance.EntityType, &instance.EntityID, &instance.SubjectID,
			&snapshot, &instance.CurrentStep, &instance.TotalSteps, &instance.Status,
			&instance.CreatedDate, &instance.LastModifiedDate)
	}

	if err := row.Scan(dest...); err != nil {
		return err
	}

	if approver.Valid {
		stepExec.ApproverID = &approver.String
	}
	if decidedBy.Valid {
		stepExec.DecidedBy = &decidedBy.String
	}
	if comment.Valid {
		stepExec.Comment = &comment.String
	}
	if dueDate.Valid {
		stepExec.DueDate = &dueDate.Time
	}
	if decidedDate.Valid {
		stepExec.DecidedDate = &decidedDate.Time
	}
	if instance != nil && snapshot != nil {
		if err := json.Unmarshal(snapshot, &instance.Steps); err != nil {
			return fmt.Errorf("failed to unmarshal steps snapshot: %w", err)
		}
	}
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}
