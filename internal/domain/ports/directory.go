package ports

import "context"

// OrgDirectory provides read-only lookups against the platform's employee,
// department and role data. Implementations must distinguish "nobody found"
// (nil result, nil error) from lookup failure (non-nil error): the former
// triggers the step skip policy, the latter is retried by the caller.
type OrgDirectory interface {
	// ManagerOf returns the employee id of the subject's direct manager,
	// or nil when the subject has no manager (top of chain).
	ManagerOf(ctx context.Context, tenantID, employeeID string) (*string, error)

	// DepartmentOf returns the subject's department id, or nil when unassigned.
	DepartmentOf(ctx context.Context, tenantID, employeeID string) (*string, error)

	// DepartmentHeadOf returns the employee id of the department's designated
	// head, or nil when the department has no qualifying head.
	DepartmentHeadOf(ctx context.Context, tenantID, departmentID string) (*string, error)

	// RoleHolders returns the ids of active employees holding the role,
	// ordered by employee id ascending.
	RoleHolders(ctx context.Context, tenantID, roleID string) ([]string, error)

	// EmployeeActive reports whether the employee exists and is active.
	EmployeeActive(ctx context.Context, tenantID, employeeID string) (bool, error)
}
