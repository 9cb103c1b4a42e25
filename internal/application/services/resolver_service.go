package services

import (
	"context"
	"fmt"

	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/constants"
)

// approverStrategy resolves the approver for one step. A nil result with a
// nil error means "no approver exists" and triggers the step's skip policy;
// a non-nil error means the directory lookup failed and the caller retries.
type approverStrategy interface {
	Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error)
}

// ResolverService maps a step definition and subject employee to the
// approver who must act on the step. Strategies form a small closed set;
// adding one is a localized change here.
type ResolverService struct {
	strategies map[string]approverStrategy
}

// NewResolverService creates a resolver backed by the org directory.
func NewResolverService(directory ports.OrgDirectory) *ResolverService {
	return &ResolverService{
		strategies: map[string]approverStrategy{
			constants.StrategyDirectManager:    &directManagerStrategy{directory: directory},
			constants.StrategyDepartmentHead:   &departmentHeadStrategy{directory: directory},
			constants.StrategyRoleHolder:       &roleHolderStrategy{directory: directory},
			constants.StrategySpecificEmployee: &specificEmployeeStrategy{directory: directory},
		},
	}
}

// Resolve returns the approver employee id for the step, nil when no
// approver exists, or an error when the directory is unavailable.
func (s *ResolverService) Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error) {
	strategy, ok := s.strategies[step.Strategy]
	if !ok {
		return nil, fmt.Errorf("unknown approver strategy %q on step %d", step.Strategy, step.StepOrder)
	}
	return strategy.Resolve(ctx, tenantID, subjectID, step)
}

// directManagerStrategy resolves to the subject's direct manager, climbing
// past inactive managers to the next active one in the chain. The walk is
// capped and tracks visited ids so cyclic manager links in the org data
// terminate as "unresolved" rather than looping.
type directManagerStrategy struct {
	directory ports.OrgDirectory
}

func (st *directManagerStrategy) Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error) {
	visited := map[string]bool{subjectID: true}
	current := subjectID

	for depth := 0; depth < constants.MaxHierarchyDepth; depth++ {
		managerID, err := st.directory.ManagerOf(ctx, tenantID, current)
		if err != nil {
			return nil, err
		}
		if managerID == nil || visited[*managerID] {
			return nil, nil
		}
		visited[*managerID] = true

		active, err := st.directory.EmployeeActive(ctx, tenantID, *managerID)
		if err != nil {
			return nil, err
		}
		if active {
			return managerID, nil
		}
		current = *managerID
	}
	return nil, nil
}

// departmentHeadStrategy resolves to the head of the subject's department.
type departmentHeadStrategy struct {
	directory ports.OrgDirectory
}

func (st *departmentHeadStrategy) Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error) {
	departmentID, err := st.directory.DepartmentOf(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	if departmentID == nil {
		return nil, nil
	}
	return st.directory.DepartmentHeadOf(ctx, tenantID, *departmentID)
}

// roleHolderStrategy resolves to an active holder of the configured role.
// With multiple holders the lowest employee id wins: a deterministic policy
// choice, so tenants needing load-balanced assignment pre-filter the role
// membership to one holder.
type roleHolderStrategy struct {
	directory ports.OrgDirectory
}

func (st *roleHolderStrategy) Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error) {
	if step.StrategyParam == nil || *step.StrategyParam == "" {
		return nil, fmt.Errorf("role_holder strategy on step %d is missing its role id", step.StepOrder)
	}

	holders, err := st.directory.RoleHolders(ctx, tenantID, *step.StrategyParam)
	if err != nil {
		return nil, err
	}
	if len(holders) == 0 {
		return nil, nil
	}
	// RoleHolders returns ids in ascending order
	return &holders[0], nil
}

// specificEmployeeStrategy resolves to a fixed employee, unresolved when the
// referenced employee no longer exists or is inactive.
type specificEmployeeStrategy struct {
	directory ports.OrgDirectory
}

func (st *specificEmployeeStrategy) Resolve(ctx context.Context, tenantID, subjectID string, step models.WorkflowStepDef) (*string, error) {
	if step.StrategyParam == nil || *step.StrategyParam == "" {
		return nil, fmt.Errorf("specific_employee strategy on step %d is missing its employee id", step.StepOrder)
	}

	active, err := st.directory.EmployeeActive(ctx, tenantID, *step.StrategyParam)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, nil
	}
	return step.StrategyParam, nil
}
