package apperrors

import "errors"

var (
	ErrIntrospectionFailure  = errors.New("layer query introspection failed")
	ErrMissingRequiredColumn = errors.New("layer query is missing a required column")
	ErrExecutionFailure      = errors.New("layer query execution failed")
	ErrInvalidPage           = errors.New("invalid page request")
	ErrQueryNotValid         = errors.New("layer query failed validation")
	ErrConnectionUnavailable = errors.New("database connection unavailable")
)
