package constants

// Context keys and header names shared by middleware and handlers.
const (
	ContextKeyUser      = "user"
	HeaderAuthorization = "Authorization"

	ResponseError = "error"
	FieldMessage  = "message"
)
