package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/pkg/constants"
	"github.com/peoplecore/backend/pkg/utils"
)

// RuleRepository handles database operations for workflow rules and their
// steps. It implements ports.RuleStore.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = "id, tenant_id, process_type, name, active, rule_condition, created_date, last_modified_date"

// GetActiveRule returns the active rule for a (tenant, process type), with
// steps ordered by step_order, or nil when none exists.
func (r *RuleRepository) GetActiveRule(ctx context.Context, tenantID, processType string) (*models.WorkflowRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND process_type = ? AND active = true
		LIMIT 1
	`, ruleColumns, constants.TableWorkflowRule)

	exec := executorFrom(ctx, r.db)
	rule, err := scanRule(exec.QueryRowContext(ctx, query, tenantID, processType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active rule: %w", err)
	}

	if err := r.loadSteps(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRule returns one rule by id within a tenant, or nil when not found.
func (r *RuleRepository) GetRule(ctx context.Context, tenantID, ruleID string) (*models.WorkflowRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND id = ?
	`, ruleColumns, constants.TableWorkflowRule)

	exec := executorFrom(ctx, r.db)
	rule, err := scanRule(exec.QueryRowContext(ctx, query, tenantID, ruleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}

	if err := r.loadSteps(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns all rules of a tenant with their steps.
func (r *RuleRepository) ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ?
		ORDER BY process_type ASC, created_date DESC
	`, ruleColumns, constants.TableWorkflowRule)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.WorkflowRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if err := r.loadSteps(ctx, rule); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// CreateRule inserts a rule and its steps. IDs are assigned when empty.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *models.WorkflowRule) error {
	if rule.ID == "" {
		rule.ID = utils.GenerateID()
	}

	exec := executorFrom(ctx, r.db)

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, process_type, name, active, rule_condition, created_date, last_modified_date)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, constants.TableWorkflowRule)

	if _, err := exec.ExecContext(ctx, query, rule.ID, rule.TenantID, rule.ProcessType, rule.Name, rule.Active, rule.Condition); err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return r.insertSteps(ctx, exec, rule)
}

// UpdateRule rewrites a rule row and replaces its steps.
func (r *RuleRepository) UpdateRule(ctx context.Context, rule *models.WorkflowRule) error {
	exec := executorFrom(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = ?, active = ?, rule_condition = ?, last_modified_date = NOW()
		WHERE tenant_id = ? AND id = ?
	`, constants.TableWorkflowRule)

	result, err := exec.ExecContext(ctx, query, rule.Name, rule.Active, rule.Condition, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	deleteSteps := fmt.Sprintf(`DELETE FROM %s WHERE rule_id = ?`, constants.TableWorkflowRuleStep)
	if _, err := exec.ExecContext(ctx, deleteSteps, rule.ID); err != nil {
		return fmt.Errorf("failed to delete rule steps: %w", err)
	}

	return r.insertSteps(ctx, exec, rule)
}

// DeactivateRule flips the active flag off. Rules are never hard-deleted:
// in-flight instances keep referencing them via their snapshot.
func (r *RuleRepository) DeactivateRule(ctx context.Context, tenantID, ruleID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET active = false, last_modified_date = NOW()
		WHERE tenant_id = ? AND id = ?
	`, constants.TableWorkflowRule)

	exec := executorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, tenantID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *RuleRepository) insertSteps(ctx context.Context, exec Executor, rule *models.WorkflowRule) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, rule_id, step_order, strategy, strategy_param, timeout_minutes, can_skip)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, constants.TableWorkflowRuleStep)

	for i := range rule.Steps {
		step := &rule.Steps[i]
		if step.ID == "" {
			step.ID = utils.GenerateID()
		}
		step.RuleID = rule.ID
		if _, err := exec.ExecContext(ctx, query,
			step.ID, step.RuleID, step.StepOrder, step.Strategy, step.StrategyParam, step.TimeoutMinutes, step.CanSkip); err != nil {
			return fmt.Errorf("failed to insert rule step %d: %w", step.StepOrder, err)
		}
	}
	return nil
}

func (r *RuleRepository) loadSteps(ctx context.Context, rule *models.WorkflowRule) error {
	query := fmt.Sprintf(`
		SELECT id, rule_id, step_order, strategy, strategy_param, timeout_minutes, can_skip
		FROM %s
		WHERE rule_id = ?
		ORDER BY step_order ASC
	`, constants.TableWorkflowRuleStep)

	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to query rule steps: %w", err)
	}
	defer rows.Close()

	rule.Steps = nil
	for rows.Next() {
		var step models.WorkflowStepDef
		var param sql.NullString
		var timeout sql.NullInt64
		if err := rows.Scan(&step.ID, &step.RuleID, &step.StepOrder, &step.Strategy, &param, &timeout, &step.CanSkip); err != nil {
			return fmt.Errorf("failed to scan rule step: %w", err)
		}
		if param.Valid {
			step.StrategyParam = &param.String
		}
		if timeout.Valid {
			minutes := int(timeout.Int64)
			step.TimeoutMinutes = &minutes
		}
		rule.Steps = append(rule.Steps, step)
	}
	return rows.Err()
}

// rowScanner lets scanRule work with both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.WorkflowRule, error) {
	var rule models.WorkflowRule
	var condition sql.NullString
	if err := row.Scan(&rule.ID, &rule.TenantID, &rule.ProcessType, &rule.Name, &rule.Active,
		&condition, &rule.CreatedDate, &rule.LastModifiedDate); err != nil {
		return nil, err
	}
	if condition.Valid {
		rule.Condition = &condition.String
	}
	return &rule, nil
}
