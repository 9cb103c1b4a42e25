package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/pkg/constants"
	apperrors "github.com/peoplecore/backend/pkg/errors"
	"github.com/peoplecore/backend/pkg/expression"
	"github.com/peoplecore/backend/pkg/utils"
)

// fakeRuleStore is an in-memory RuleStore for service tests.
type fakeRuleStore struct {
	rules     map[string]*models.WorkflowRule
	loadCount int
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]*models.WorkflowRule)}
}

func (f *fakeRuleStore) GetActiveRule(ctx context.Context, tenantID, processType string) (*models.WorkflowRule, error) {
	f.loadCount++
	for _, r := range f.rules {
		if r.TenantID == tenantID && r.ProcessType == processType && r.Active {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRuleStore) GetRule(ctx context.Context, tenantID, ruleID string) (*models.WorkflowRule, error) {
	r, ok := f.rules[ruleID]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return r, nil
}

func (f *fakeRuleStore) ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error) {
	var out []*models.WorkflowRule
	for _, r := range f.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) CreateRule(ctx context.Context, rule *models.WorkflowRule) error {
	if rule.ID == "" {
		rule.ID = utils.GenerateID()
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) UpdateRule(ctx context.Context, rule *models.WorkflowRule) error {
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) DeactivateRule(ctx context.Context, tenantID, ruleID string) error {
	if r, ok := f.rules[ruleID]; ok && r.TenantID == tenantID {
		r.Active = false
	}
	return nil
}

func validRule(tenantID, processType string) *models.WorkflowRule {
	return &models.WorkflowRule{
		TenantID:    tenantID,
		ProcessType: processType,
		Name:        "Leave approval",
		Active:      true,
		Steps: []models.WorkflowStepDef{
			{StepOrder: 1, Strategy: constants.StrategyDirectManager},
			{StepOrder: 2, Strategy: constants.StrategyDepartmentHead},
		},
	}
}

func TestCreateRuleAndGetActive(t *testing.T) {
	store := newFakeRuleStore()
	svc := NewRuleService(store, expression.NewEngine(), fakeTxRunner{})

	rule := validRule("t1", "leave_approval")
	require.NoError(t, svc.CreateRule(context.Background(), rule))

	got, err := svc.GetActiveRule(context.Background(), "t1", "leave_approval")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
	assert.Len(t, got.Steps, 2)
}

func TestGetActiveRuleCaches(t *testing.T) {
	store := newFakeRuleStore()
	svc := NewRuleService(store, expression.NewEngine(), fakeTxRunner{})
	require.NoError(t, svc.CreateRule(context.Background(), validRule("t1", "leave_approval")))

	before := store.loadCount
	_, err := svc.GetActiveRule(context.Background(), "t1", "leave_approval")
	require.NoError(t, err)
	_, err = svc.GetActiveRule(context.Background(), "t1", "leave_approval")
	require.NoError(t, err)
	assert.Equal(t, before+1, store.loadCount, "second read should hit the cache")
}

func TestDeactivateRuleInvalidatesCache(t *testing.T) {
	store := newFakeRuleStore()
	svc := NewRuleService(store, expression.NewEngine(), fakeTxRunner{})

	rule := validRule("t1", "leave_approval")
	require.NoError(t, svc.CreateRule(context.Background(), rule))
	_, err := svc.GetActiveRule(context.Background(), "t1", "leave_approval")
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateRule(context.Background(), "t1", rule.ID))

	_, err = svc.GetActiveRule(context.Background(), "t1", "leave_approval")
	assert.True(t, domain.IsRuleNotFound(err))
}

func TestGetActiveRuleNone(t *testing.T) {
	svc := NewRuleService(newFakeRuleStore(), expression.NewEngine(), fakeTxRunner{})

	_, err := svc.GetActiveRule(context.Background(), "t1", "offboarding")
	assert.True(t, domain.IsRuleNotFound(err))
}

func TestCreateRuleRejectsSecondActive(t *testing.T) {
	store := newFakeRuleStore()
	svc := NewRuleService(store, expression.NewEngine(), fakeTxRunner{})
	require.NoError(t, svc.CreateRule(context.Background(), validRule("t1", "leave_approval")))

	err := svc.CreateRule(context.Background(), validRule("t1", "leave_approval"))
	assert.True(t, apperrors.IsConflict(err))
}

func TestCreateRuleValidation(t *testing.T) {
	svc := NewRuleService(newFakeRuleStore(), expression.NewEngine(), fakeTxRunner{})
	roleID := "role-hr"

	tests := []struct {
		name   string
		mutate func(*models.WorkflowRule)
	}{
		{"missing name", func(r *models.WorkflowRule) { r.Name = "" }},
		{"active with no steps", func(r *models.WorkflowRule) { r.Steps = nil }},
		{"step order gap", func(r *models.WorkflowRule) { r.Steps[1].StepOrder = 3 }},
		{"zero-indexed steps", func(r *models.WorkflowRule) {
			r.Steps[0].StepOrder = 0
			r.Steps[1].StepOrder = 1
		}},
		{"unknown strategy", func(r *models.WorkflowRule) { r.Steps[0].Strategy = "coin_flip" }},
		{"role_holder without param", func(r *models.WorkflowRule) { r.Steps[0].Strategy = constants.StrategyRoleHolder }},
		{"direct_manager with param", func(r *models.WorkflowRule) { r.Steps[0].StrategyParam = &roleID }},
		{"non-positive timeout", func(r *models.WorkflowRule) {
			zero := 0
			r.Steps[0].TimeoutMinutes = &zero
		}},
		{"malformed condition", func(r *models.WorkflowRule) {
			cond := "days >"
			r.Condition = &cond
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule("t1", "leave_approval")
			tt.mutate(rule)
			err := svc.CreateRule(context.Background(), rule)
			require.Error(t, err)
			var vErr *apperrors.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

// countingTxRunner records how many transactions were opened.
type countingTxRunner struct {
	calls int
}

func (c *countingTxRunner) InTransaction(ctx context.Context, fn func(context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func TestRuleWritesRunInTransaction(t *testing.T) {
	store := newFakeRuleStore()
	runner := &countingTxRunner{}
	svc := NewRuleService(store, expression.NewEngine(), runner)

	rule := validRule("t1", "leave_approval")
	require.NoError(t, svc.CreateRule(context.Background(), rule))
	assert.Equal(t, 1, runner.calls, "create must wrap its writes in one transaction")

	require.NoError(t, svc.UpdateRule(context.Background(), rule))
	assert.Equal(t, 2, runner.calls, "update must wrap its writes in one transaction")
}

func TestUpdateRuleKeepsProcessType(t *testing.T) {
	store := newFakeRuleStore()
	svc := NewRuleService(store, expression.NewEngine(), fakeTxRunner{})

	rule := validRule("t1", "leave_approval")
	require.NoError(t, svc.CreateRule(context.Background(), rule))

	edited := validRule("t1", "expense_approval")
	edited.ID = rule.ID
	require.NoError(t, svc.UpdateRule(context.Background(), edited))
	assert.Equal(t, "leave_approval", edited.ProcessType)
}

func TestUpdateRuleNotFound(t *testing.T) {
	svc := NewRuleService(newFakeRuleStore(), expression.NewEngine(), fakeTxRunner{})

	missing := validRule("t1", "leave_approval")
	missing.ID = "nope"
	err := svc.UpdateRule(context.Background(), missing)
	assert.True(t, apperrors.IsNotFound(err))
}
