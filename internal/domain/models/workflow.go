package models

import (
	"time"
)

// WorkflowRule is the tenant-configured approval chain for one business
// process type (leave approval, compensation confirmation, offboarding, ...).
// At most one active rule exists per (tenant, process type).
type WorkflowRule struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	ProcessType      string            `json:"process_type"`
	Name             string            `json:"name"`
	Active           bool              `json:"active"`
	Condition        *string           `json:"condition,omitempty"` // expr condition over the submission context
	Steps            []WorkflowStepDef `json:"steps"`
	CreatedDate      time.Time         `json:"created_date"`
	LastModifiedDate time.Time         `json:"last_modified_date"`
}

// WorkflowStepDef defines one step of a rule. Steps are 1-indexed and
// contiguous. StrategyParam carries the role id for role_holder and the
// employee id for specific_employee; other strategies must leave it empty.
type WorkflowStepDef struct {
	ID             string  `json:"id"`
	RuleID         string  `json:"rule_id"`
	StepOrder      int     `json:"step_order"`
	Strategy       string  `json:"strategy"`
	StrategyParam  *string `json:"strategy_param,omitempty"`
	TimeoutMinutes *int    `json:"timeout_minutes,omitempty"` // nil disables auto-advance
	CanSkip        bool    `json:"can_skip"`
}

// Timeout returns the auto-advance window, if configured.
func (s WorkflowStepDef) Timeout() (time.Duration, bool) {
	if s.TimeoutMinutes == nil || *s.TimeoutMinutes <= 0 {
		return 0, false
	}
	return time.Duration(*s.TimeoutMinutes) * time.Minute, true
}

// WorkflowInstance is one in-flight (or terminal) approval chain bound to a
// business entity. Steps holds the rule snapshot taken at creation time, so
// rule edits never change in-flight semantics. Instances are never deleted;
// terminal instances remain as the audit trail.
type WorkflowInstance struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	RuleID           string            `json:"rule_id"`
	ProcessType      string            `json:"process_type"`
	EntityType       string            `json:"entity_type"`
	EntityID         string            `json:"entity_id"`
	SubjectID        string            `json:"subject_id"` // employee the process is about
	Steps            []WorkflowStepDef `json:"steps"`
	CurrentStep      int               `json:"current_step"`
	TotalSteps       int               `json:"total_steps"`
	Status           string            `json:"status"`
	CreatedDate      time.Time         `json:"created_date"`
	LastModifiedDate time.Time         `json:"last_modified_date"`
}

// StepDef returns the snapshot definition for a step order, or nil when out of range.
func (i *WorkflowInstance) StepDef(order int) *WorkflowStepDef {
	for idx := range i.Steps {
		if i.Steps[idx].StepOrder == order {
			return &i.Steps[idx]
		}
	}
	return nil
}

// StepExecution records one step actually entered for an instance. Steps are
// never re-entered: exactly one execution exists per entered step order.
// ApproverID is nil when the approver could not be resolved. DueDate is
// precomputed from the step timeout so the sweeper can scan by index.
type StepExecution struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	TenantID    string     `json:"tenant_id"`
	StepOrder   int        `json:"step_order"`
	ApproverID  *string    `json:"approver_id,omitempty"`
	Status      string     `json:"status"`
	DecidedBy   *string    `json:"decided_by,omitempty"`
	Comment     *string    `json:"comment,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedDate time.Time  `json:"created_date"`
	DecidedDate *time.Time `json:"decided_date,omitempty"`
}
