package ports

import (
	"context"
	"time"

	"github.com/peoplecore/backend/internal/domain/models"
)

// RuleStore persists workflow rules and their steps, scoped by tenant.
type RuleStore interface {
	GetActiveRule(ctx context.Context, tenantID, processType string) (*models.WorkflowRule, error)
	GetRule(ctx context.Context, tenantID, ruleID string) (*models.WorkflowRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error)
	CreateRule(ctx context.Context, rule *models.WorkflowRule) error
	UpdateRule(ctx context.Context, rule *models.WorkflowRule) error
	DeactivateRule(ctx context.Context, tenantID, ruleID string) error
}

// DueStepExecution pairs a pending execution with its instance for the sweeper.
type DueStepExecution struct {
	Execution models.StepExecution
	Instance  models.WorkflowInstance
}

// InstanceStore persists workflow instances and step executions.
// DecideStep is the single compare-and-swap primitive every transition
// (manual decision, cancel, auto-advance) goes through.
type InstanceStore interface {
	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error)
	UpdateInstanceProgress(ctx context.Context, instanceID string, currentStep int, status string) error

	CreateStepExecution(ctx context.Context, exec *models.StepExecution) error
	GetStepExecution(ctx context.Context, instanceID string, stepOrder int) (*models.StepExecution, error)
	ListStepExecutions(ctx context.Context, instanceID string) ([]models.StepExecution, error)

	// DecideStep transitions an execution from Pending to toStatus only if it
	// is still Pending at write time. Returns false when the row was already
	// decided; the caller must treat that as losing the race.
	DecideStep(ctx context.Context, executionID, toStatus, decidedBy, comment string) (bool, error)

	ListPendingByApprover(ctx context.Context, tenantID, approverID string, limit int) ([]DueStepExecution, error)
	ListInstancesByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*models.WorkflowInstance, error)

	// ListDueStepExecutions returns pending executions whose auto-advance due
	// date has passed, together with their instances.
	ListDueStepExecutions(ctx context.Context, now time.Time, limit int) ([]DueStepExecution, error)
}

// TransactionRunner executes a function inside a database transaction. The
// transaction travels in the derived context so store calls participate in it.
type TransactionRunner interface {
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
