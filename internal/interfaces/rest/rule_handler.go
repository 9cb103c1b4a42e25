package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/pkg/constants"
)

// RuleAdministration defines the interface for workflow rule management
type RuleAdministration interface {
	GetRule(ctx context.Context, tenantID, ruleID string) (*models.WorkflowRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*models.WorkflowRule, error)
	CreateRule(ctx context.Context, rule *models.WorkflowRule) error
	UpdateRule(ctx context.Context, rule *models.WorkflowRule) error
	DeactivateRule(ctx context.Context, tenantID, ruleID string) error
}

// RuleHandler handles workflow rule administration endpoints
type RuleHandler struct {
	svc RuleAdministration
}

// NewRuleHandler creates a new RuleHandler
func NewRuleHandler(svc RuleAdministration) *RuleHandler {
	return &RuleHandler{svc: svc}
}

// RuleBody is the request body for creating or updating a rule
type RuleBody struct {
	ProcessType string                   `json:"process_type"`
	Name        string                   `json:"name" binding:"required"`
	Active      bool                     `json:"active"`
	Condition   *string                  `json:"condition"`
	Steps       []models.WorkflowStepDef `json:"steps"`
}

// List handles GET /api/workflows/rules
func (h *RuleHandler) List(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, "data", func() (interface{}, error) {
		return h.svc.ListRules(c.Request.Context(), user.TenantID)
	})
}

// Get handles GET /api/workflows/rules/:ruleId
func (h *RuleHandler) Get(c *gin.Context) {
	user := GetUserFromContext(c)
	ruleID := c.Param("ruleId")
	HandleGetEnvelope(c, "data", func() (interface{}, error) {
		return h.svc.GetRule(c.Request.Context(), user.TenantID, ruleID)
	})
}

// Create handles POST /api/workflows/rules
func (h *RuleHandler) Create(c *gin.Context) {
	user := GetUserFromContext(c)

	var body RuleBody
	if !BindJSON(c, &body) {
		return
	}

	rule := &models.WorkflowRule{
		TenantID:    user.TenantID,
		ProcessType: body.ProcessType,
		Name:        body.Name,
		Active:      body.Active,
		Condition:   body.Condition,
		Steps:       body.Steps,
	}
	if err := h.svc.CreateRule(c.Request.Context(), rule); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		constants.FieldMessage: "Workflow rule created",
		"data":                 rule,
	})
}

// Update handles PUT /api/workflows/rules/:ruleId
func (h *RuleHandler) Update(c *gin.Context) {
	user := GetUserFromContext(c)
	ruleID := c.Param("ruleId")

	var body RuleBody
	if !BindJSON(c, &body) {
		return
	}

	rule := &models.WorkflowRule{
		ID:        ruleID,
		TenantID:  user.TenantID,
		Name:      body.Name,
		Active:    body.Active,
		Condition: body.Condition,
		Steps:     body.Steps,
	}
	if err := h.svc.UpdateRule(c.Request.Context(), rule); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Workflow rule updated",
		"data":                 rule,
	})
}

// Deactivate handles DELETE /api/workflows/rules/:ruleId
func (h *RuleHandler) Deactivate(c *gin.Context) {
	user := GetUserFromContext(c)
	ruleID := c.Param("ruleId")

	if err := h.svc.DeactivateRule(c.Request.Context(), user.TenantID, ruleID); err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Workflow rule deactivated",
	})
}
