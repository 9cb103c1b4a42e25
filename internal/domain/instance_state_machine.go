package domain

import (
	"fmt"

	"github.com/peoplecore/backend/pkg/constants"
)

// InstanceTransition represents an action that can change instance status
type InstanceTransition string

const (
	// TransitionComplete marks the instance approved after the last step
	TransitionComplete InstanceTransition = "Complete"
	// TransitionReject terminates the instance on a rejected step
	TransitionReject InstanceTransition = "Reject"
	// TransitionCancel terminates the instance on caller request
	TransitionCancel InstanceTransition = "Cancel"
)

// InstanceStateMachine enforces valid status transitions for workflow
// instances. Invalid transitions return an error (fail-fast approach).
//
// State diagram:
//
//	  [InProgress]
//	   │    │    │
//	Complete Reject Cancel
//	   │    │    │
//	   ▼    ▼    ▼
//	[Approved] [Rejected] [Cancelled]
//
// All three targets are terminal; advancing between steps keeps the
// instance InProgress and is not a status transition.
type InstanceStateMachine struct {
	// transitions maps (current status, transition) -> next status
	transitions map[statusTransitionKey]string
}

type statusTransitionKey struct {
	status     string
	transition InstanceTransition
}

// NewInstanceStateMachine creates a state machine with the instance lifecycle rules.
func NewInstanceStateMachine() *InstanceStateMachine {
	sm := &InstanceStateMachine{
		transitions: make(map[statusTransitionKey]string),
	}

	sm.addTransition(constants.InstanceStatusInProgress, TransitionComplete, constants.InstanceStatusApproved)
	sm.addTransition(constants.InstanceStatusInProgress, TransitionReject, constants.InstanceStatusRejected)
	sm.addTransition(constants.InstanceStatusInProgress, TransitionCancel, constants.InstanceStatusCancelled)

	return sm
}

func (sm *InstanceStateMachine) addTransition(from string, via InstanceTransition, to string) {
	key := statusTransitionKey{status: from, transition: via}
	sm.transitions[key] = to
}

// Transition attempts to transition from the current status using the given action.
// Returns the new status or an error if the transition is invalid.
func (sm *InstanceStateMachine) Transition(current string, action InstanceTransition) (string, error) {
	key := statusTransitionKey{status: current, transition: action}
	next, ok := sm.transitions[key]
	if !ok {
		return current, fmt.Errorf("invalid status transition: cannot %s from %s", action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *InstanceStateMachine) CanTransition(current string, action InstanceTransition) bool {
	key := statusTransitionKey{status: current, transition: action}
	_, ok := sm.transitions[key]
	return ok
}

// IsTerminal returns true if the status is terminal (no further transitions).
func (sm *InstanceStateMachine) IsTerminal(status string) bool {
	return status == constants.InstanceStatusApproved ||
		status == constants.InstanceStatusRejected ||
		status == constants.InstanceStatusCancelled
}
