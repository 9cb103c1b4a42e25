package domain

import (
	"errors"
	"fmt"
)

// RuleNotFoundError means no active rule exists for a process type.
// Callers treat this as "no approval required", not as a user-facing failure.
type RuleNotFoundError struct {
	TenantID    string
	ProcessType string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("no active workflow rule for process type '%s'", e.ProcessType)
}

// ConditionsNotMetError means an active rule exists but the submission
// context does not satisfy its condition. No instance is created.
type ConditionsNotMetError struct {
	ProcessType string
	Condition   string
}

func (e *ConditionsNotMetError) Error() string {
	return fmt.Sprintf("workflow rule conditions not met for process type '%s'", e.ProcessType)
}

// UnresolvedApproverError means a non-skippable step found no approver.
// The execution stays Pending with a nil approver until an administrator
// intervenes; the error is surfaced so the caller can alert one.
type UnresolvedApproverError struct {
	InstanceID string
	StepOrder  int
	Strategy   string
}

func (e *UnresolvedApproverError) Error() string {
	return fmt.Sprintf("no approver resolved for step %d (strategy %s) of instance %s",
		e.StepOrder, e.Strategy, e.InstanceID)
}

// StaleStepError means a decision referenced a step order that is no longer
// the instance's current pending step (client acted on a stale view).
type StaleStepError struct {
	InstanceID  string
	CurrentStep int
	GivenStep   int
}

func (e *StaleStepError) Error() string {
	return fmt.Sprintf("step %d of instance %s is not the current step (current: %d)",
		e.GivenStep, e.InstanceID, e.CurrentStep)
}

// StepAlreadyDecidedError means a transition lost the race on a step
// execution: the row was no longer Pending at write time. The loser must not
// advance the instance.
type StepAlreadyDecidedError struct {
	ExecutionID string
}

func (e *StepAlreadyDecidedError) Error() string {
	return fmt.Sprintf("step execution %s has already been decided", e.ExecutionID)
}

// IsRuleNotFound reports whether err is a RuleNotFoundError.
func IsRuleNotFound(err error) bool {
	var e *RuleNotFoundError
	return errors.As(err, &e)
}

// IsConditionsNotMet reports whether err is a ConditionsNotMetError.
func IsConditionsNotMet(err error) bool {
	var e *ConditionsNotMetError
	return errors.As(err, &e)
}

// IsUnresolvedApprover reports whether err is an UnresolvedApproverError.
func IsUnresolvedApprover(err error) bool {
	var e *UnresolvedApproverError
	return errors.As(err, &e)
}

// IsStaleStep reports whether err is a StaleStepError.
func IsStaleStep(err error) bool {
	var e *StaleStepError
	return errors.As(err, &e)
}

// IsStepAlreadyDecided reports whether err is a StepAlreadyDecidedError.
func IsStepAlreadyDecided(err error) bool {
	var e *StepAlreadyDecidedError
	return errors.As(err, &e)
}
