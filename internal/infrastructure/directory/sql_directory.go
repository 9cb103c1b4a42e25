package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peoplecore/backend/pkg/constants"
)

// SQLDirectory is the Org Directory Adapter backed by the platform's
// employee, department and role tables. All queries are read-only. Every
// lookup runs under a bounded timeout with a small retry budget so a slow
// directory cannot stall workflow advancement indefinitely; after the budget
// is spent the error is returned and the step stays Pending.
type SQLDirectory struct {
	db      *sql.DB
	timeout time.Duration
	retries int
}

// NewSQLDirectory creates a directory adapter with the default lookup bounds.
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{
		db:      db,
		timeout: time.Duration(constants.DirectoryLookupTimeoutSeconds) * time.Second,
		retries: constants.DirectoryLookupRetries,
	}
}

// ManagerOf returns the subject's direct manager id, or nil when the subject
// has no manager (top of chain) or does not exist.
func (d *SQLDirectory) ManagerOf(ctx context.Context, tenantID, employeeID string) (*string, error) {
	query := fmt.Sprintf(`
		SELECT manager_id FROM %s
		WHERE tenant_id = ? AND id = ? AND active = true
	`, constants.TableEmployee)

	var managerID sql.NullString
	err := d.queryRowWithRetry(ctx, func(ctx context.Context) error {
		return d.db.QueryRowContext(ctx, query, tenantID, employeeID).Scan(&managerID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manager lookup failed for employee %s: %w", employeeID, err)
	}
	if !managerID.Valid || managerID.String == "" {
		return nil, nil
	}
	return &managerID.String, nil
}

// DepartmentOf returns the subject's department id, or nil when unassigned.
func (d *SQLDirectory) DepartmentOf(ctx context.Context, tenantID, employeeID string) (*string, error) {
	query := fmt.Sprintf(`
		SELECT department_id FROM %s
		WHERE tenant_id = ? AND id = ? AND active = true
	`, constants.TableEmployee)

	var departmentID sql.NullString
	err := d.queryRowWithRetry(ctx, func(ctx context.Context) error {
		return d.db.QueryRowContext(ctx, query, tenantID, employeeID).Scan(&departmentID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("department lookup failed for employee %s: %w", employeeID, err)
	}
	if !departmentID.Valid || departmentID.String == "" {
		return nil, nil
	}
	return &departmentID.String, nil
}

// DepartmentHeadOf returns the active employee holding a manager-tagged role
// scoped to the department, or nil when the department has no qualifying
// head. Multiple heads tie-break deterministically on lowest employee id.
func (d *SQLDirectory) DepartmentHeadOf(ctx context.Context, tenantID, departmentID string) (*string, error) {
	query := fmt.Sprintf(`
		SELECT r.employee_id
		FROM %s r
		JOIN %s e ON e.id = r.employee_id AND e.tenant_id = r.tenant_id
		WHERE r.tenant_id = ? AND r.department_id = ? AND r.is_manager = true AND e.active = true
		ORDER BY r.employee_id ASC
		LIMIT 1
	`, constants.TableDepartmentRole, constants.TableEmployee)

	var headID string
	err := d.queryRowWithRetry(ctx, func(ctx context.Context) error {
		return d.db.QueryRowContext(ctx, query, tenantID, departmentID).Scan(&headID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("department head lookup failed for department %s: %w", departmentID, err)
	}
	return &headID, nil
}

// RoleHolders returns the active employees holding the role, ordered by
// employee id ascending so callers can tie-break deterministically.
func (d *SQLDirectory) RoleHolders(ctx context.Context, tenantID, roleID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT r.employee_id
		FROM %s r
		JOIN %s e ON e.id = r.employee_id AND e.tenant_id = r.tenant_id
		WHERE r.tenant_id = ? AND r.role_id = ? AND e.active = true
		ORDER BY r.employee_id ASC
	`, constants.TableDepartmentRole, constants.TableEmployee)

	var holders []string
	err := d.queryRowWithRetry(ctx, func(ctx context.Context) error {
		rows, err := d.db.QueryContext(ctx, query, tenantID, roleID)
		if err != nil {
			return err
		}
		defer rows.Close()

		holders = holders[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			holders = append(holders, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("role holder lookup failed for role %s: %w", roleID, err)
	}
	return holders, nil
}

// EmployeeActive reports whether the employee exists and is active.
func (d *SQLDirectory) EmployeeActive(ctx context.Context, tenantID, employeeID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE tenant_id = ? AND id = ? AND active = true)
	`, constants.TableEmployee)

	var active bool
	err := d.queryRowWithRetry(ctx, func(ctx context.Context) error {
		return d.db.QueryRowContext(ctx, query, tenantID, employeeID).Scan(&active)
	})
	if err != nil {
		return false, fmt.Errorf("employee lookup failed for %s: %w", employeeID, err)
	}
	return active, nil
}

// queryRowWithRetry runs fn under the lookup timeout, retrying transient
// failures. sql.ErrNoRows is a definitive answer and is never retried.
func (d *SQLDirectory) queryRowWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := fn(lookupCtx)
		cancel()

		if err == nil || err == sql.ErrNoRows {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < d.retries {
			time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
		}
	}
	return lastErr
}
