package constants

// Workflow instance status constants
const (
	InstanceStatusInProgress = "InProgress"
	InstanceStatusApproved   = "Approved"
	InstanceStatusRejected   = "Rejected"
	InstanceStatusCancelled  = "Cancelled"
)

// Step execution status constants
const (
	StepStatusPending      = "Pending"
	StepStatusApproved     = "Approved"
	StepStatusRejected     = "Rejected"
	StepStatusSkipped      = "Skipped"
	StepStatusAutoApproved = "AutoApproved"
	StepStatusCancelled    = "Cancelled"
)

// Approver resolution strategies
const (
	StrategyDirectManager    = "direct_manager"
	StrategyDepartmentHead   = "department_head"
	StrategyRoleHolder       = "role_holder"
	StrategySpecificEmployee = "specific_employee"
)

// Decision values accepted by the decide endpoint
const (
	DecisionApprove = "Approve"
	DecisionReject  = "Reject"
)

// SystemActorID identifies timeout-driven (sweeper) transitions in the audit trail.
const SystemActorID = "00000000-0000-0000-0000-000000000000"

// MaxHierarchyDepth caps manager-chain walks so cyclic org data cannot loop the resolver.
const MaxHierarchyDepth = 10

// Sweeper defaults
const (
	SweepIntervalSecondsDefault = 60
	SweepBatchSize              = 100
)

// Directory lookup bounds
const (
	DirectoryLookupTimeoutSeconds = 3
	DirectoryLookupRetries        = 2
)

// Outbox worker defaults
const (
	OutboxPollIntervalMillis = 500
	OutboxMaxRetryAttempts   = 5
	OutboxBatchSize          = 100
)
