package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/pkg/constants"
)

func newMockRepo(t *testing.T) (*InstanceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewInstanceRepository(db), mock
}

func TestDecideStepWinsRace(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE "+constants.TableStepExecution)).
		WithArgs(constants.StepStatusApproved, "mgr-1", "ok", "se-1", constants.StepStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.DecideStep(context.Background(), "se-1", constants.StepStatusApproved, "mgr-1", "ok")
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideStepLosesRace(t *testing.T) {
	repo, mock := newMockRepo(t)

	// Zero rows affected: the execution was no longer Pending.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE "+constants.TableStepExecution)).
		WithArgs(constants.StepStatusAutoApproved, constants.SystemActorID, "approval window elapsed", "se-1", constants.StepStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.DecideStep(context.Background(), "se-1", constants.StepStatusAutoApproved,
		constants.SystemActorID, "approval window elapsed")
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstanceUnmarshalsSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)

	snapshot := `[{"id":"s1","rule_id":"r1","step_order":1,"strategy":"direct_manager","can_skip":false}]`
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "rule_id", "process_type", "entity_type", "entity_id", "subject_id",
		"steps_snapshot", "current_step", "total_steps", "status", "created_date", "last_modified_date",
	}).AddRow("wi-1", "t1", "r1", "leave_approval", "leave_request", "lr-1", "emp-1",
		[]byte(snapshot), 1, 1, constants.InstanceStatusInProgress, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WithArgs("t1", "wi-1").WillReturnRows(rows)

	instance, err := repo.GetInstance(context.Background(), "t1", "wi-1")
	require.NoError(t, err)
	require.NotNil(t, instance)
	require.Len(t, instance.Steps, 1)
	assert.Equal(t, constants.StrategyDirectManager, instance.Steps[0].Strategy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstanceNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WithArgs("t1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	instance, err := repo.GetInstance(context.Background(), "t1", "missing")
	require.NoError(t, err)
	assert.Nil(t, instance)
}

func TestUpdateInstanceProgressRefusesTerminalInstance(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE "+constants.TableWorkflowInstance)).
		WithArgs(2, constants.InstanceStatusInProgress, "wi-1", constants.InstanceStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateInstanceProgress(context.Background(), "wi-1", 2, constants.InstanceStatusInProgress)
	assert.Error(t, err)
}

func TestCreateStepExecutionAssignsID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO "+constants.TableStepExecution)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	stepExec := &models.StepExecution{
		InstanceID: "wi-1",
		TenantID:   "t1",
		StepOrder:  1,
		Status:     constants.StepStatusPending,
	}
	require.NoError(t, repo.CreateStepExecution(context.Background(), stepExec))
	assert.NotEmpty(t, stepExec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueStepExecutions(t *testing.T) {
	repo, mock := newMockRepo(t)

	snapshot := `[{"step_order":1,"strategy":"direct_manager","timeout_minutes":30,"can_skip":false}]`
	now := time.Now()
	due := now.Add(-time.Hour)
	rows := sqlmock.NewRows([]string{
		"e.id", "e.instance_id", "e.tenant_id", "e.step_order", "e.approver_id", "e.status",
		"e.decided_by", "e.comment", "e.due_date", "e.created_date", "e.decided_date",
		"i.id", "i.tenant_id", "i.rule_id", "i.process_type", "i.entity_type", "i.entity_id", "i.subject_id",
		"i.steps_snapshot", "i.current_step", "i.total_steps", "i.status", "i.created_date", "i.last_modified_date",
	}).AddRow(
		"se-1", "wi-1", "t1", 1, "mgr-1", constants.StepStatusPending,
		nil, nil, due, now, nil,
		"wi-1", "t1", "r1", "leave_approval", "leave_request", "lr-1", "emp-1",
		[]byte(snapshot), 1, 1, constants.InstanceStatusInProgress, now, now,
	)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs(constants.StepStatusPending, sqlmock.AnyArg(), constants.InstanceStatusInProgress, 100).
		WillReturnRows(rows)

	dueExecs, err := repo.ListDueStepExecutions(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, dueExecs, 1)
	assert.Equal(t, "se-1", dueExecs[0].Execution.ID)
	assert.Equal(t, "wi-1", dueExecs[0].Instance.ID)
	require.NotNil(t, dueExecs[0].Execution.ApproverID)
	assert.Equal(t, "mgr-1", *dueExecs[0].Execution.ApproverID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
