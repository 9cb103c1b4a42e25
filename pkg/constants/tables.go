package constants

// Table names used by the workflow engine and the read-only org directory.
const (
	// Workflow tables (owned by the engine)
	TableWorkflowRule     = "workflow_rule"
	TableWorkflowRuleStep = "workflow_rule_step"
	TableWorkflowInstance = "workflow_instance"
	TableStepExecution    = "workflow_step_execution"
	TableEventOutbox      = "workflow_event_outbox"

	// Org directory tables (consumed read-only)
	TableEmployee       = "employee"
	TableDepartment     = "department"
	TableDepartmentRole = "department_role"
)
