package services

import (
	"context"
	"log"
	"time"

	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/internal/domain/events"
	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/auth"
	"github.com/peoplecore/backend/pkg/constants"
	apperrors "github.com/peoplecore/backend/pkg/errors"
	"github.com/peoplecore/backend/pkg/expression"
	"github.com/peoplecore/backend/pkg/utils"
)

// SubmitRequest carries one workflow submission. Context is the map the
// rule's condition expression is evaluated against; SubjectID defaults to the
// submitting actor when empty.
type SubmitRequest struct {
	ProcessType string                 `json:"process_type"`
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	SubjectID   string                 `json:"subject_id"`
	Context     map[string]interface{} `json:"context"`
}

// WorkflowService is the approval engine: it creates instances from rules,
// routes decisions through the step-execution CAS, cascades skips and emits
// lifecycle events through the transactional outbox.
type WorkflowService struct {
	rules     *RuleService
	instances ports.InstanceStore
	resolver  *ResolverService
	engine    *expression.Engine
	sink      ports.EventSink
	txRunner  ports.TransactionRunner
	sm        *domain.InstanceStateMachine
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	rules *RuleService,
	instances ports.InstanceStore,
	resolver *ResolverService,
	engine *expression.Engine,
	sink ports.EventSink,
	txRunner ports.TransactionRunner,
) *WorkflowService {
	return &WorkflowService{
		rules:     rules,
		instances: instances,
		resolver:  resolver,
		engine:    engine,
		sink:      sink,
		txRunner:  txRunner,
		sm:        domain.NewInstanceStateMachine(),
	}
}

// Submit creates a workflow instance for a business entity. The active rule's
// steps are snapshotted onto the instance so later rule edits cannot change
// its routing. When every step skips, the returned instance is already
// Approved. A non-skippable step with no resolvable approver is committed as
// Pending with no approver and reported via UnresolvedApproverError alongside
// the instance.
func (s *WorkflowService) Submit(ctx context.Context, req SubmitRequest, session *auth.UserSession) (*models.WorkflowInstance, error) {
	if req.ProcessType == "" {
		return nil, apperrors.NewValidationError("process_type", "process type is required")
	}
	if req.EntityType == "" || req.EntityID == "" {
		return nil, apperrors.NewValidationError("entity", "entity type and id are required")
	}

	rule, err := s.rules.GetActiveRule(ctx, session.TenantID, req.ProcessType)
	if err != nil {
		return nil, err
	}

	condition := ""
	if rule.Condition != nil {
		condition = *rule.Condition
	}
	met, err := s.engine.EvaluateCondition(condition, req.Context)
	if err != nil {
		return nil, apperrors.NewValidationError("context", err.Error())
	}
	if !met {
		return nil, &domain.ConditionsNotMetError{ProcessType: req.ProcessType, Condition: condition}
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		subjectID = session.EmployeeID
	}

	steps := make([]models.WorkflowStepDef, len(rule.Steps))
	copy(steps, rule.Steps)

	instance := &models.WorkflowInstance{
		ID:          utils.GenerateID(),
		TenantID:    session.TenantID,
		RuleID:      rule.ID,
		ProcessType: req.ProcessType,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		SubjectID:   subjectID,
		Steps:       steps,
		CurrentStep: 1,
		TotalSteps:  len(steps),
		Status:      constants.InstanceStatusInProgress,
		CreatedDate: time.Now(),
	}

	var unresolved *domain.UnresolvedApproverError
	err = s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		if err := s.instances.CreateInstance(txCtx, instance); err != nil {
			return err
		}
		advErr := s.advanceFrom(txCtx, instance, 1)
		if domain.IsUnresolvedApprover(advErr) {
			// The stalled Pending execution must commit; the error only alerts.
			unresolved = advErr.(*domain.UnresolvedApproverError)
			return nil
		}
		return advErr
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🚀 [Workflow] Instance %s created for %s/%s (process %s, step %d/%d, status %s)",
		instance.ID, req.EntityType, req.EntityID, req.ProcessType,
		instance.CurrentStep, instance.TotalSteps, instance.Status)

	if unresolved != nil {
		return instance, unresolved
	}
	return instance, nil
}

// Decide records an Approve or Reject on the instance's current step. The
// caller must be the step's resolved approver; admins may override, which is
// logged distinctly. Concurrent decisions race on the execution row and
// losers get StepAlreadyDecidedError. When an approval advances into a
// non-skippable step with no resolvable approver, the decision still commits
// and the instance is returned alongside an UnresolvedApproverError.
func (s *WorkflowService) Decide(ctx context.Context, instanceID string, stepOrder int, decision, comment string, session *auth.UserSession) (*models.WorkflowInstance, error) {
	if decision != constants.DecisionApprove && decision != constants.DecisionReject {
		return nil, apperrors.NewValidationError("decision",
			"decision must be '"+constants.DecisionApprove+"' or '"+constants.DecisionReject+"'")
	}

	instance, err := s.instances.GetInstance(ctx, session.TenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, apperrors.NewNotFoundError("workflow instance", instanceID)
	}
	if s.sm.IsTerminal(instance.Status) {
		return nil, apperrors.NewConflictError("workflow instance",
			"instance is already "+instance.Status)
	}
	if stepOrder != instance.CurrentStep {
		return nil, &domain.StaleStepError{InstanceID: instanceID, CurrentStep: instance.CurrentStep, GivenStep: stepOrder}
	}

	stepExec, err := s.instances.GetStepExecution(ctx, instanceID, stepOrder)
	if err != nil {
		return nil, err
	}
	if stepExec == nil {
		return nil, apperrors.NewInternalError("current step has no execution record", nil)
	}

	if err := s.authorizeDecision(stepExec, session); err != nil {
		return nil, err
	}

	toStatus := constants.StepStatusApproved
	if decision == constants.DecisionReject {
		toStatus = constants.StepStatusRejected
	}

	var unresolved *domain.UnresolvedApproverError
	err = s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.instances.DecideStep(txCtx, stepExec.ID, toStatus, session.EmployeeID, comment)
		if err != nil {
			return err
		}
		if !won {
			return &domain.StepAlreadyDecidedError{ExecutionID: stepExec.ID}
		}

		if decision == constants.DecisionReject {
			return s.terminate(txCtx, instance, domain.TransitionReject, events.WorkflowRejected,
				&events.RejectedPayload{InstanceID: instance.ID, ByStep: stepOrder, DecidedBy: session.EmployeeID})
		}
		advErr := s.advanceFrom(txCtx, instance, stepOrder+1)
		if domain.IsUnresolvedApprover(advErr) {
			// The decision and the stalled next step must both commit; rolling
			// back here would lose the approval and wedge the instance.
			unresolved = advErr.(*domain.UnresolvedApproverError)
			return nil
		}
		return advErr
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ [Workflow] %s by %s on step %d of instance %s (now %s)",
		decision, session.EmployeeID, stepOrder, instanceID, instance.Status)

	if unresolved != nil {
		return instance, unresolved
	}
	return instance, nil
}

// Cancel terminates an in-flight instance on behalf of its subject or an admin.
func (s *WorkflowService) Cancel(ctx context.Context, instanceID, reason string, session *auth.UserSession) (*models.WorkflowInstance, error) {
	instance, err := s.instances.GetInstance(ctx, session.TenantID, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, apperrors.NewNotFoundError("workflow instance", instanceID)
	}
	if s.sm.IsTerminal(instance.Status) {
		return nil, apperrors.NewConflictError("workflow instance",
			"instance is already "+instance.Status)
	}
	if instance.SubjectID != session.EmployeeID && !session.IsAdmin {
		return nil, apperrors.NewPermissionError("cancel", "workflow instance")
	}

	stepExec, err := s.instances.GetStepExecution(ctx, instanceID, instance.CurrentStep)
	if err != nil {
		return nil, err
	}
	if stepExec == nil {
		return nil, apperrors.NewInternalError("current step has no execution record", nil)
	}

	err = s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.instances.DecideStep(txCtx, stepExec.ID, constants.StepStatusCancelled, session.EmployeeID, reason)
		if err != nil {
			return err
		}
		if !won {
			return &domain.StepAlreadyDecidedError{ExecutionID: stepExec.ID}
		}
		return s.terminate(txCtx, instance, domain.TransitionCancel, events.WorkflowCancelled,
			&events.CancelledPayload{InstanceID: instance.ID, CancelledBy: session.EmployeeID, Reason: reason})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🛑 [Workflow] Instance %s cancelled by %s", instanceID, session.EmployeeID)
	return instance, nil
}

// AutoAdvance approves a timed-out pending step on behalf of the system
// actor. It shares the decision CAS, so a concurrent manual decision makes
// exactly one of the two stick. Like Decide, a stalled next step commits and
// is reported via UnresolvedApproverError.
func (s *WorkflowService) AutoAdvance(ctx context.Context, due ports.DueStepExecution) error {
	instance := due.Instance
	stepExec := due.Execution

	if instance.Status != constants.InstanceStatusInProgress || stepExec.StepOrder != instance.CurrentStep {
		return &domain.StaleStepError{InstanceID: instance.ID, CurrentStep: instance.CurrentStep, GivenStep: stepExec.StepOrder}
	}

	var unresolved *domain.UnresolvedApproverError
	err := s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.instances.DecideStep(txCtx, stepExec.ID, constants.StepStatusAutoApproved,
			constants.SystemActorID, "approval window elapsed")
		if err != nil {
			return err
		}
		if !won {
			return &domain.StepAlreadyDecidedError{ExecutionID: stepExec.ID}
		}
		advErr := s.advanceFrom(txCtx, &instance, stepExec.StepOrder+1)
		if domain.IsUnresolvedApprover(advErr) {
			// Same commit rule as Decide: the auto-approval sticks and the
			// next step stays Pending without an approver.
			unresolved = advErr.(*domain.UnresolvedApproverError)
			return nil
		}
		return advErr
	})
	if err != nil {
		return err
	}

	log.Printf("⏰ [Workflow] Step %d of instance %s auto-approved after timeout (now %s)",
		stepExec.StepOrder, instance.ID, instance.Status)

	if unresolved != nil {
		return unresolved
	}
	return nil
}

// GetStatus returns an instance with its full execution trail.
func (s *WorkflowService) GetStatus(ctx context.Context, instanceID string, session *auth.UserSession) (*models.WorkflowInstance, []models.StepExecution, error) {
	instance, err := s.instances.GetInstance(ctx, session.TenantID, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if instance == nil {
		return nil, nil, apperrors.NewNotFoundError("workflow instance", instanceID)
	}

	execs, err := s.instances.ListStepExecutions(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	return instance, execs, nil
}

// GetPending returns the actor's approval inbox.
func (s *WorkflowService) GetPending(ctx context.Context, session *auth.UserSession) ([]ports.DueStepExecution, error) {
	return s.instances.ListPendingByApprover(ctx, session.TenantID, session.EmployeeID, 100)
}

// GetHistory returns all instances ever created for a business entity.
func (s *WorkflowService) GetHistory(ctx context.Context, entityType, entityID string, session *auth.UserSession) ([]*models.WorkflowInstance, error) {
	return s.instances.ListInstancesByEntity(ctx, session.TenantID, entityType, entityID)
}

func (s *WorkflowService) authorizeDecision(stepExec *models.StepExecution, session *auth.UserSession) error {
	if stepExec.ApproverID != nil && *stepExec.ApproverID == session.EmployeeID {
		return nil
	}
	if session.IsAdmin {
		log.Printf("👑 [Workflow] Admin override: %s deciding step execution %s", session.EmployeeID, stepExec.ID)
		return nil
	}
	return apperrors.NewPermissionError("decide", "workflow step")
}

// advanceFrom enters steps starting at fromOrder, skipping past skippable
// steps without approvers, until it either leaves a Pending execution behind
// or runs out of steps and completes the instance. Runs inside the caller's
// transaction; a directory failure rolls back the whole attempt.
func (s *WorkflowService) advanceFrom(ctx context.Context, instance *models.WorkflowInstance, fromOrder int) error {
	for order := fromOrder; order <= instance.TotalSteps; order++ {
		step := instance.StepDef(order)
		if step == nil {
			return apperrors.NewInternalError("instance snapshot is missing a step definition", nil)
		}

		approver, err := s.resolver.Resolve(ctx, instance.TenantID, instance.SubjectID, *step)
		if err != nil {
			return err
		}

		if approver == nil && step.CanSkip {
			if err := s.recordSkipped(ctx, instance, order); err != nil {
				return err
			}
			log.Printf("⏭️ [Workflow] Step %d of instance %s skipped (no approver)", order, instance.ID)
			continue
		}

		stepExec := &models.StepExecution{
			ID:         utils.GenerateID(),
			InstanceID: instance.ID,
			TenantID:   instance.TenantID,
			StepOrder:  order,
			ApproverID: approver,
			Status:     constants.StepStatusPending,
		}
		if timeout, ok := step.Timeout(); ok {
			due := time.Now().Add(timeout)
			stepExec.DueDate = &due
		}
		if err := s.instances.CreateStepExecution(ctx, stepExec); err != nil {
			return err
		}

		instance.CurrentStep = order
		if err := s.instances.UpdateInstanceProgress(ctx, instance.ID, order, constants.InstanceStatusInProgress); err != nil {
			return err
		}

		if err := s.sink.Enqueue(ctx, events.WorkflowStepAdvanced, &events.StepAdvancedPayload{
			InstanceID: instance.ID, StepOrder: order, ApproverID: approver,
		}); err != nil {
			return err
		}

		if approver == nil {
			// Non-skippable step with nobody to approve it: stays Pending with
			// no approver until an administrator steps in.
			return &domain.UnresolvedApproverError{InstanceID: instance.ID, StepOrder: order, Strategy: step.Strategy}
		}
		return nil
	}

	return s.terminate(ctx, instance, domain.TransitionComplete, events.WorkflowCompleted,
		&events.CompletedPayload{InstanceID: instance.ID, EntityType: instance.EntityType, EntityID: instance.EntityID})
}

func (s *WorkflowService) recordSkipped(ctx context.Context, instance *models.WorkflowInstance, order int) error {
	systemActor := constants.SystemActorID
	now := time.Now()
	return s.instances.CreateStepExecution(ctx, &models.StepExecution{
		ID:          utils.GenerateID(),
		InstanceID:  instance.ID,
		TenantID:    instance.TenantID,
		StepOrder:   order,
		Status:      constants.StepStatusSkipped,
		DecidedBy:   &systemActor,
		DecidedDate: &now,
	})
}

// terminate moves the instance to a terminal status through the state
// machine and enqueues the matching lifecycle event.
func (s *WorkflowService) terminate(ctx context.Context, instance *models.WorkflowInstance, via domain.InstanceTransition, eventType events.EventType, payload interface{}) error {
	next, err := s.sm.Transition(instance.Status, via)
	if err != nil {
		return err
	}
	if err := s.instances.UpdateInstanceProgress(ctx, instance.ID, instance.CurrentStep, next); err != nil {
		return err
	}
	instance.Status = next
	return s.sink.Enqueue(ctx, eventType, payload)
}
