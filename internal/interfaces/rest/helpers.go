package rest

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peoplecore/backend/internal/domain"
	"github.com/peoplecore/backend/pkg/auth"
	"github.com/peoplecore/backend/pkg/constants"
	"github.com/peoplecore/backend/pkg/errors"
)

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *auth.UserSession {
	userInterface, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}

	user := userInterface.(auth.UserSession)
	return &user
}

// RespondAppError sends a standardised JSON error response using pkg/errors.
// Domain errors are translated to their HTTP-mappable equivalents first.
func RespondAppError(c *gin.Context, err error) {
	err = mapDomainError(err)

	code := errors.GetHTTPStatus(err)
	errorCode := errors.GetErrorCode(err)
	message := err.Error()

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, message)
	}

	c.JSON(code, gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		"code":                  errorCode,
		"data":                  nil,
	})
}

// mapDomainError lifts engine-level errors into the AppError taxonomy so the
// response layer never leaks raw internals.
func mapDomainError(err error) error {
	switch {
	case domain.IsRuleNotFound(err):
		return errors.NewNotFoundError("active workflow rule", "")
	case domain.IsConditionsNotMet(err):
		return errors.NewValidationError("context", err.Error())
	case domain.IsStaleStep(err):
		return errors.NewConflictError("workflow step", err.Error())
	case domain.IsStepAlreadyDecided(err):
		return errors.NewConflictError("workflow step", err.Error())
	case domain.IsUnresolvedApprover(err):
		return errors.NewConflictError("workflow step", err.Error())
	default:
		return err
	}
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
// Response: { [key]: result }
func HandleGetEnvelope(c *gin.Context, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}
