package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/constants"
	apperrors "github.com/peoplecore/backend/pkg/errors"
	"github.com/peoplecore/backend/pkg/expression"
)

// RuleService manages workflow rule configuration. Active rules are cached
// per (tenant, process type) since every submission consults them; any write
// invalidates the owning tenant's cache entries. In-flight instances are
// unaffected by rule edits because they run on their snapshot.
type RuleService struct {
	store    ports.RuleStore
	engine   *expression.Engine
	txRunner ports.TransactionRunner

	cacheMu sync.RWMutex
	cache   map[string]*models.WorkflowRule // key: tenantID + "\x00" + processType
}

// NewRuleService creates a new RuleService
func NewRuleService(store ports.RuleStore, engine *expression.Engine, txRunner ports.TransactionRunner) *RuleService {
	return &RuleService{
		store:    store,
		engine:   engine,
		txRunner: txRunner,
		cache:    make(map[string]*models.WorkflowRule),
	}
}

func cacheKey(tenantID, processType string) string {
	return tenantID + "\x00" + processType
}

// GetActiveRule returns the active rule for a process type, or a
// RuleNotFoundError when the tenant has none configured.
func (s *RuleService) GetActiveRule(ctx context.Context, tenantID, processType string) (*models.WorkflowRule, error) {
	key := cacheKey(tenantID, processType)

	s.cacheMu.RLock()
	if rule, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return rule, nil
	}
	s.cacheMu.RUnlock()

	rule, err := s.store.GetActiveRule(ctx, tenantID, processType)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, &domain.RuleNotFoundError{TenantID: tenantID, ProcessType: processType}
	}

	s.cacheMu.Lock()
	s.cache[key] = rule
	s.cacheMu.Unlock()

	return rule, nil
}

// GetRule returns one rule by id.
func (s *RuleService) GetRule(ctx context.Context, tenantID, ruleID string) (*models.WorkflowRule, error) {
	rule, err := s.store.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, apperrors.NewNotFoundError("workflow rule", ruleID)
	}
	return rule, nil
}

// ListRules returns all rules configured by a tenant.
func (s *RuleService) ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error) {
	return s.store.ListRules(ctx, tenantID)
}

// CreateRule validates and persists a new rule. Creating an active rule for
// a process type that already has one is rejected so the one-active-rule
// invariant holds.
func (s *RuleService) CreateRule(ctx context.Context, rule *models.WorkflowRule) error {
	if err := s.validateRule(rule); err != nil {
		return err
	}

	// The uniqueness check and the inserts share one transaction so a
	// mid-write failure cannot leave a rule without its steps.
	err := s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		if rule.Active {
			existing, err := s.store.GetActiveRule(txCtx, rule.TenantID, rule.ProcessType)
			if err != nil {
				return err
			}
			if existing != nil {
				return apperrors.NewConflictError("workflow rule",
					fmt.Sprintf("process type '%s' already has an active rule", rule.ProcessType))
			}
		}
		return s.store.CreateRule(txCtx, rule)
	})
	if err != nil {
		return err
	}

	s.invalidateTenant(rule.TenantID)
	log.Printf("📋 [Rules] Created rule %s for process type %s (tenant %s)", rule.ID, rule.ProcessType, rule.TenantID)
	return nil
}

// UpdateRule validates and rewrites a rule and its steps.
func (s *RuleService) UpdateRule(ctx context.Context, rule *models.WorkflowRule) error {
	existing, err := s.store.GetRule(ctx, rule.TenantID, rule.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.NewNotFoundError("workflow rule", rule.ID)
	}
	// Process type is the rule's identity; edits change the chain, not the binding.
	rule.ProcessType = existing.ProcessType

	if err := s.validateRule(rule); err != nil {
		return err
	}

	// Same transaction boundary as CreateRule: the rule-row update and the
	// step delete/reinsert either all land or none do.
	err = s.txRunner.InTransaction(ctx, func(txCtx context.Context) error {
		if rule.Active {
			active, err := s.store.GetActiveRule(txCtx, rule.TenantID, rule.ProcessType)
			if err != nil {
				return err
			}
			if active != nil && active.ID != rule.ID {
				return apperrors.NewConflictError("workflow rule",
					fmt.Sprintf("process type '%s' already has an active rule", rule.ProcessType))
			}
		}
		return s.store.UpdateRule(txCtx, rule)
	})
	if err != nil {
		return err
	}

	s.invalidateTenant(rule.TenantID)
	log.Printf("📋 [Rules] Updated rule %s (tenant %s)", rule.ID, rule.TenantID)
	return nil
}

// DeactivateRule turns a rule off. In-flight instances keep running on
// their snapshot; future submissions of the process type find no rule.
func (s *RuleService) DeactivateRule(ctx context.Context, tenantID, ruleID string) error {
	if err := s.store.DeactivateRule(ctx, tenantID, ruleID); err != nil {
		return err
	}

	s.invalidateTenant(tenantID)
	log.Printf("📋 [Rules] Deactivated rule %s (tenant %s)", ruleID, tenantID)
	return nil
}

func (s *RuleService) invalidateTenant(tenantID string) {
	prefix := tenantID + "\x00"

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for key := range s.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.cache, key)
		}
	}
}

// validateRule enforces the structural invariants of a rule definition.
func (s *RuleService) validateRule(rule *models.WorkflowRule) error {
	if rule.TenantID == "" {
		return apperrors.NewValidationError("tenant_id", "tenant id is required")
	}
	if rule.ProcessType == "" {
		return apperrors.NewValidationError("process_type", "process type is required")
	}
	if rule.Name == "" {
		return apperrors.NewValidationError("name", "rule name is required")
	}
	if rule.Active && len(rule.Steps) == 0 {
		return apperrors.NewValidationError("steps", "an active rule needs at least one step")
	}

	if rule.Condition != nil && *rule.Condition != "" {
		if err := s.engine.Validate(*rule.Condition, map[string]interface{}{}); err != nil {
			return apperrors.NewValidationError("condition", fmt.Sprintf("invalid condition expression: %v", err))
		}
	}

	sort.Slice(rule.Steps, func(i, j int) bool {
		return rule.Steps[i].StepOrder < rule.Steps[j].StepOrder
	})
	for i := range rule.Steps {
		if err := validateStep(&rule.Steps[i], i+1); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *models.WorkflowStepDef, expectedOrder int) error {
	field := fmt.Sprintf("steps[%d]", expectedOrder-1)

	// Step orders are 1-indexed and contiguous.
	if step.StepOrder != expectedOrder {
		return apperrors.NewValidationError(field,
			fmt.Sprintf("step orders must run 1..N without gaps; got %d, expected %d", step.StepOrder, expectedOrder))
	}

	hasParam := step.StrategyParam != nil && *step.StrategyParam != ""
	switch step.Strategy {
	case constants.StrategyDirectManager, constants.StrategyDepartmentHead:
		if hasParam {
			return apperrors.NewValidationError(field,
				fmt.Sprintf("strategy %s takes no parameter", step.Strategy))
		}
	case constants.StrategyRoleHolder:
		if !hasParam {
			return apperrors.NewValidationError(field, "role_holder strategy requires a role id parameter")
		}
	case constants.StrategySpecificEmployee:
		if !hasParam {
			return apperrors.NewValidationError(field, "specific_employee strategy requires an employee id parameter")
		}
	default:
		return apperrors.NewValidationError(field, fmt.Sprintf("unknown strategy '%s'", step.Strategy))
	}

	if step.TimeoutMinutes != nil && *step.TimeoutMinutes <= 0 {
		return apperrors.NewValidationError(field, "timeout_minutes must be positive when set")
	}
	return nil
}
