package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peoplecore/backend/internal/application/services"
	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/internal/domain/models"
	"github.com/peoplecore/backend/internal/domain/ports"
	"github.com/peoplecore/backend/pkg/auth"
	"github.com/peoplecore/backend/pkg/constants"
)

// WorkflowEngine defines the interface for workflow instance operations
type WorkflowEngine interface {
	Submit(ctx context.Context, req services.SubmitRequest, session *auth.UserSession) (*models.WorkflowInstance, error)
	Decide(ctx context.Context, instanceID string, stepOrder int, decision, comment string, session *auth.UserSession) (*models.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID, reason string, session *auth.UserSession) (*models.WorkflowInstance, error)
	GetStatus(ctx context.Context, instanceID string, session *auth.UserSession) (*models.WorkflowInstance, []models.StepExecution, error)
	GetPending(ctx context.Context, session *auth.UserSession) ([]ports.DueStepExecution, error)
	GetHistory(ctx context.Context, entityType, entityID string, session *auth.UserSession) ([]*models.WorkflowInstance, error)
}

// WorkflowHandler handles workflow instance API endpoints
type WorkflowHandler struct {
	svc WorkflowEngine
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(svc WorkflowEngine) *WorkflowHandler {
	return &WorkflowHandler{svc: svc}
}

// SubmitBody is the request body for submitting a workflow instance
type SubmitBody struct {
	EntityType string                 `json:"entity_type" binding:"required"`
	EntityID   string                 `json:"entity_id" binding:"required"`
	SubjectID  string                 `json:"subject_id"`
	Context    map[string]interface{} `json:"context"`
}

// DecideBody is the request body for a step decision
type DecideBody struct {
	StepOrder int    `json:"step_order" binding:"required"`
	Decision  string `json:"decision" binding:"required"`
	Comment   string `json:"comment"`
}

// CancelBody is the request body for cancelling an instance
type CancelBody struct {
	Reason string `json:"reason"`
}

// Submit handles POST /api/workflows/:processType/instances
func (h *WorkflowHandler) Submit(c *gin.Context) {
	user := GetUserFromContext(c)
	processType := c.Param("processType")

	var body SubmitBody
	if !BindJSON(c, &body) {
		return
	}

	instance, err := h.svc.Submit(c.Request.Context(), services.SubmitRequest{
		ProcessType: processType,
		EntityType:  body.EntityType,
		EntityID:    body.EntityID,
		SubjectID:   body.SubjectID,
		Context:     body.Context,
	}, user)

	// The instance exists but its first step has nobody to approve it; the
	// caller gets the instance plus a warning rather than a failure.
	if domain.IsUnresolvedApprover(err) && instance != nil {
		c.JSON(http.StatusCreated, gin.H{
			constants.FieldMessage: "Workflow created; current step has no resolvable approver",
			"warning":              err.Error(),
			"data":                 instance,
		})
		return
	}
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		constants.FieldMessage: "Workflow submitted",
		"data":                 instance,
	})
}

// Decide handles POST /api/workflows/instances/:instanceId/decide
func (h *WorkflowHandler) Decide(c *gin.Context) {
	user := GetUserFromContext(c)
	instanceID := c.Param("instanceId")

	var body DecideBody
	if !BindJSON(c, &body) {
		return
	}

	instance, err := h.svc.Decide(c.Request.Context(), instanceID, body.StepOrder, body.Decision, body.Comment, user)

	// The decision stuck but the next step has nobody to approve it; report
	// success with a warning instead of a failure.
	if domain.IsUnresolvedApprover(err) && instance != nil {
		c.JSON(http.StatusOK, gin.H{
			constants.FieldMessage: "Decision recorded; next step has no resolvable approver",
			"warning":              err.Error(),
			"data":                 instance,
		})
		return
	}
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Decision recorded",
		"data":                 instance,
	})
}

// Cancel handles POST /api/workflows/instances/:instanceId/cancel
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	user := GetUserFromContext(c)
	instanceID := c.Param("instanceId")

	var body CancelBody
	_ = c.ShouldBindJSON(&body) // Reason is optional

	instance, err := h.svc.Cancel(c.Request.Context(), instanceID, body.Reason, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		constants.FieldMessage: "Workflow cancelled",
		"data":                 instance,
	})
}

// GetStatus handles GET /api/workflows/instances/:instanceId
func (h *WorkflowHandler) GetStatus(c *gin.Context) {
	user := GetUserFromContext(c)
	instanceID := c.Param("instanceId")

	instance, execs, err := h.svc.GetStatus(c.Request.Context(), instanceID, user)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"instance":   instance,
			"executions": execs,
		},
	})
}

// GetPending handles GET /api/workflows/pending
func (h *WorkflowHandler) GetPending(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleGetEnvelope(c, "data", func() (interface{}, error) {
		return h.svc.GetPending(c.Request.Context(), user)
	})
}

// GetHistory handles GET /api/workflows/history/:entityType/:entityId
func (h *WorkflowHandler) GetHistory(c *gin.Context) {
	user := GetUserFromContext(c)
	entityType := c.Param("entityType")
	entityID := c.Param("entityId")
	HandleGetEnvelope(c, "data", func() (interface{}, error) {
		return h.svc.GetHistory(c.Request.Context(), entityType, entityID, user)
	})
}
