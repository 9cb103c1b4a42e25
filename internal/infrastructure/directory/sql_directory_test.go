package directory

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*SQLDirectory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := NewSQLDirectory(db)
	dir.retries = 0 // Retries make expectation counting awkward; tested separately
	return dir, mock
}

func TestManagerOf(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT manager_id")).
		WithArgs("t1", "emp-1").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id"}).AddRow("mgr-1"))

	managerID, err := dir.ManagerOf(context.Background(), "t1", "emp-1")
	require.NoError(t, err)
	require.NotNil(t, managerID)
	assert.Equal(t, "mgr-1", *managerID)
}

func TestManagerOfTopOfChain(t *testing.T) {
	dir, mock := newMockDirectory(t)

	// NULL manager_id: the employee reports to nobody.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT manager_id")).
		WithArgs("t1", "ceo").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id"}).AddRow(nil))

	managerID, err := dir.ManagerOf(context.Background(), "t1", "ceo")
	require.NoError(t, err)
	assert.Nil(t, managerID)
}

func TestManagerOfUnknownEmployee(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT manager_id")).
		WithArgs("t1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id"}))

	managerID, err := dir.ManagerOf(context.Background(), "t1", "ghost")
	require.NoError(t, err)
	assert.Nil(t, managerID)
}

func TestDepartmentHeadOfPicksLowestEmployeeID(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.employee_id")).
		WithArgs("t1", "dept-1").
		WillReturnRows(sqlmock.NewRows([]string{"employee_id"}).AddRow("head-1"))

	headID, err := dir.DepartmentHeadOf(context.Background(), "t1", "dept-1")
	require.NoError(t, err)
	require.NotNil(t, headID)
	assert.Equal(t, "head-1", *headID)
}

func TestRoleHoldersOrdered(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.employee_id")).
		WithArgs("t1", "role-hr").
		WillReturnRows(sqlmock.NewRows([]string{"employee_id"}).
			AddRow("emp-a").AddRow("emp-b").AddRow("emp-c"))

	holders, err := dir.RoleHolders(context.Background(), "t1", "role-hr")
	require.NoError(t, err)
	assert.Equal(t, []string{"emp-a", "emp-b", "emp-c"}, holders)
}

func TestEmployeeActive(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1", "emp-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := dir.EmployeeActive(context.Background(), "t1", "emp-1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestLookupRetriesTransientFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := &SQLDirectory{db: db, timeout: time.Second, retries: 1}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1", "emp-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1", "emp-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := dir.EmployeeActive(context.Background(), "t1", "emp-1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupExhaustsRetryBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := &SQLDirectory{db: db, timeout: time.Second, retries: 1}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT manager_id")).
			WithArgs("t1", "emp-1").
			WillReturnError(errors.New("directory down"))
	}

	_, err = dir.ManagerOf(context.Background(), "t1", "emp-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
