package domain

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors wrap one of these so callers can use errors.Is.
var (
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDependency = errors.New("dependency failure")
)

var (
	ErrUserAlreadyExists       = fmt.Errorf("user already exists: %w", ErrConflict)
	ErrContactNumberTaken      = fmt.Errorf("contact number belongs to another user: %w", ErrConflict)
	ErrUserIDTaken             = fmt.Errorf("user id already taken: %w", ErrConflict)
	ErrStaleWrite              = fmt.Errorf("record was modified concurrently: %w", ErrConflict)
	ErrUserNotFound            = fmt.Errorf("user not present: %w", ErrNotFound)
	ErrSecurityDetailsNotFound = fmt.Errorf("security details not found: %w", ErrNotFound)
	ErrUserIDExhausted         = fmt.Errorf("could not allocate a free user id: %w", ErrDependency)
)

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DependencyError wraps a failed call to an external collaborator.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() []error { return []error{ErrDependency, e.Err} }

// ErrorCode returns the machine-readable code reported to clients for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUserAlreadyExists):
		return "USER_ALREADY_EXISTS_409"
	case errors.Is(err, ErrConflict):
		return "CONFLICT_409"
	case errors.Is(err, ErrSecurityDetailsNotFound):
		return "SECURITY_DETAILS_NOT_FOUND_404"
	case errors.Is(err, ErrNotFound):
		return "USER_NOT_FOUND_404"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED_400"
	case errors.Is(err, ErrDependency):
		return "DEPENDENCY_FAILURE_502"
	default:
		return "INTERNAL_ERROR_500"
	}
}
