package events

// EventType defines the type of event in the system
type EventType string

const (
	// Workflow Events
	WorkflowStepAdvanced EventType = "workflow.step_advanced"
	WorkflowCompleted    EventType = "workflow.completed"
	WorkflowRejected     EventType = "workflow.rejected"
	WorkflowCancelled    EventType = "workflow.cancelled"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// StepAdvancedPayload is emitted when an instance enters a new pending step.
type StepAdvancedPayload struct {
	InstanceID string  `json:"instance_id"`
	StepOrder  int     `json:"step_order"`
	ApproverID *string `json:"approver_id,omitempty"`
}

// CompletedPayload is emitted when an instance passes its last step.
type CompletedPayload struct {
	InstanceID string `json:"instance_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// RejectedPayload is emitted when a step decision terminates the instance.
type RejectedPayload struct {
	InstanceID string `json:"instance_id"`
	ByStep     int    `json:"by_step"`
	DecidedBy  string `json:"decided_by"`
}

// CancelledPayload is emitted when the caller cancels an in-flight instance.
type CancelledPayload struct {
	InstanceID  string `json:"instance_id"`
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}
