package services

import (
	"errors"
	"fmt"

	goa "goa.design/goa/v3/pkg"
)

// Service error names. The HTTP layer maps each to a status code.
const (
	ErrNameBadRequest   = "bad_request"
	ErrNameUnauthorized = "unauthorized"
	ErrNameForbidden    = "forbidden"
	ErrNameNotFound     = "not_found"
	ErrNameConflict     = "conflict"
	ErrNameRateLimited  = "rate_limited"
	ErrNameUnavailable  = "unavailable"
	ErrNameInternal     = "internal"
)

// BadRequest creates a properly formatted bad request error
func BadRequest(format string, args ...interface{}) *goa.ServiceError {
	return goa.NewServiceError(fmt.Errorf(format, args...), ErrNameBadRequest, false, false, false)
}

// Unauthorized creates a properly formatted unauthorized error
func Unauthorized(message string) *goa.ServiceError {
	return goa.NewServiceError(errors.New(message), ErrNameUnauthorized, false, false, false)
}

// Forbidden creates a properly formatted insufficient permissions error
func Forbidden(message string) *goa.ServiceError {
	return goa.NewServiceError(errors.New(message), ErrNameForbidden, false, false, false)
}

// NotFound creates a properly formatted not found error
func NotFound(format string, args ...interface{}) *goa.ServiceError {
	return goa.NewServiceError(fmt.Errorf(format, args...), ErrNameNotFound, false, false, false)
}

// Conflict creates an error for a request the current state does not accept
func Conflict(err error) *goa.ServiceError {
	return goa.NewServiceError(err, ErrNameConflict, false, false, false)
}

// RateLimited creates a temporary too many requests error
func RateLimited(message string) *goa.ServiceError {
	return goa.NewServiceError(errors.New(message), ErrNameRateLimited, false, true, false)
}

// Unavailable creates a temporary error for exhausted or unreachable resources
func Unavailable(err error) *goa.ServiceError {
	return goa.NewServiceError(err, ErrNameUnavailable, false, true, false)
}

// Internal wraps an unexpected failure; the cause is not shown to clients
func Internal(err error) *goa.ServiceError {
	return goa.NewServiceError(err, ErrNameInternal, false, false, true)
}
