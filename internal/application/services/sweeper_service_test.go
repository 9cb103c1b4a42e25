package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peoplecore/backend/pkg/constants"
)

func newSweeperFixture(t *testing.T, timeoutMinutes int) (*SweeperService, *engineFixture) {
	t.Helper()

	rule := twoStepRule()
	rule.Steps[0].TimeoutMinutes = &timeoutMinutes
	fx := newEngineFixture(t, rule, managedOrg())

	sweeper, err := NewSweeperService(fx.store, fx.svc, time.Minute, "")
	require.NoError(t, err)
	return sweeper, fx
}

func TestSweepAdvancesDueSteps(t *testing.T) {
	sweeper, fx := newSweeperFixture(t, 30)

	instance, err := fx.svc.Submit(context.Background(), leaveRequest(), employeeSession("emp-1"))
	require.NoError(t, err)

	// Backdate the due date so the step is overdue.
	for _, e := range fx.store.execs[instance.ID] {
		past := time.Now().Add(-time.Hour)
		e.DueDate = &past
	}

	advanced, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	stepExec, _ := fx.store.GetStepExecution(context.Background(), instance.ID, 1)
	assert.Equal(t, constants.StepStatusAutoApproved, stepExec.Status)

	stored, _ := fx.store.GetInstance(context.Background(), "t1", instance.ID)
	assert.Equal(t, 2, stored.CurrentStep)
}

func TestSweepIgnoresStepsNotYetDue(t *testing.T) {
	sweeper, fx := newSweeperFixture(t, 30)

	instance, err := fx.svc.Submit(context.Background(), leaveRequest(), employeeSession("emp-1"))
	require.NoError(t, err)

	advanced, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)

	stepExec, _ := fx.store.GetStepExecution(context.Background(), instance.ID, 1)
	assert.Equal(t, constants.StepStatusPending, stepExec.Status)
}

func TestSweepIgnoresStepsWithoutTimeout(t *testing.T) {
	fx := newEngineFixture(t, twoStepRule(), managedOrg())
	sweeper, err := NewSweeperService(fx.store, fx.svc, time.Minute, "")
	require.NoError(t, err)

	_, err = fx.svc.Submit(context.Background(), leaveRequest(), employeeSession("emp-1"))
	require.NoError(t, err)

	advanced, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)
}

func TestSweepSkipsAlreadyDecidedSteps(t *testing.T) {
	sweeper, fx := newSweeperFixture(t, 30)

	instance, err := fx.svc.Submit(context.Background(), leaveRequest(), employeeSession("emp-1"))
	require.NoError(t, err)
	for _, e := range fx.store.execs[instance.ID] {
		past := time.Now().Add(-time.Hour)
		e.DueDate = &past
	}

	// Manual decision lands before the sweep.
	_, err = fx.svc.Decide(context.Background(), instance.ID, 1, constants.DecisionApprove, "", employeeSession("mgr-1"))
	require.NoError(t, err)

	advanced, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)
}

func TestSweepAdvancesIntoUnresolvedStep(t *testing.T) {
	timeout := 30
	rule := twoStepRule()
	rule.Steps[0].TimeoutMinutes = &timeout
	org := managedOrg()
	delete(org.heads, "dept-1") // step 2 resolves to nobody and cannot skip
	fx := newEngineFixture(t, rule, org)

	sweeper, err := NewSweeperService(fx.store, fx.svc, time.Minute, "")
	require.NoError(t, err)

	instance, err := fx.svc.Submit(context.Background(), leaveRequest(), employeeSession("emp-1"))
	require.NoError(t, err)
	for _, e := range fx.store.execs[instance.ID] {
		past := time.Now().Add(-time.Hour)
		e.DueDate = &past
	}

	// The timed-out step advances even though the next one stalls.
	advanced, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	first, _ := fx.store.GetStepExecution(context.Background(), instance.ID, 1)
	assert.Equal(t, constants.StepStatusAutoApproved, first.Status)

	second, _ := fx.store.GetStepExecution(context.Background(), instance.ID, 2)
	require.NotNil(t, second)
	assert.Equal(t, constants.StepStatusPending, second.Status)
	assert.Nil(t, second.ApproverID)

	stored, _ := fx.store.GetInstance(context.Background(), "t1", instance.ID)
	assert.Equal(t, constants.InstanceStatusInProgress, stored.Status)
	assert.Equal(t, 2, stored.CurrentStep)

	// The stalled step has no due date, so later sweeps leave it alone.
	advanced, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)
}

func TestNewSweeperRejectsBadCronSpec(t *testing.T) {
	fx := newEngineFixture(t, nil, &fakeDirectory{})

	_, err := NewSweeperService(fx.store, fx.svc, time.Minute, "not a cron spec")
	assert.Error(t, err)

	sweeper, err := NewSweeperService(fx.store, fx.svc, time.Minute, "*/5 * * * *")
	require.NoError(t, err)
	assert.NotNil(t, sweeper.schedule)
}
