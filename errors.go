package permit

import (
	"errors"
	"fmt"
)

// Sentinel errors. Configuration-time errors (invalid definitions,
// frozen registry, cyclic inheritance) propagate to the caller; the
// checker renders tenant errors as deny at its boundary.
var (
	// ErrMissingTenant is returned when a check context carries no tenant at all.
	ErrMissingTenant = errors.New("permit: missing tenant context")

	// ErrInvalidTenant is returned when a tenant is present but malformed
	// (empty id) or not in active status.
	ErrInvalidTenant = errors.New("permit: invalid tenant")

	// ErrPermissionDenied is returned by CheckStrict when access is denied.
	ErrPermissionDenied = errors.New("permit: permission denied")

	// ErrInvalidResource is returned for structurally invalid resource definitions.
	ErrInvalidResource = errors.New("permit: invalid resource definition")

	// ErrInvalidPolicy is returned for structurally invalid policy definitions.
	ErrInvalidPolicy = errors.New("permit: invalid policy definition")

	// ErrInvalidRole is returned for structurally invalid role definitions.
	ErrInvalidRole = errors.New("permit: invalid role definition")

	// ErrCyclicInheritance is returned when a role write would introduce
	// an inheritance cycle.
	ErrCyclicInheritance = errors.New("permit: cyclic role inheritance")

	// ErrRegistryFrozen is returned when registering a resource on a frozen registry.
	ErrRegistryFrozen = errors.New("permit: registry is frozen")

	// ErrDuplicatePolicy is returned when adding a policy whose id is already registered.
	ErrDuplicatePolicy = errors.New("permit: duplicate policy id")

	// ErrRoleNotFound is returned when a referenced role does not exist.
	ErrRoleNotFound = errors.New("permit: role not found")

	// ErrRoleInUse is returned when deleting a role that other roles inherit from.
	ErrRoleInUse = errors.New("permit: role is inherited by other roles")

	// ErrImmutableRole is returned when mutating a system role.
	ErrImmutableRole = errors.New("permit: system roles are immutable")

	// ErrTenantNotFound is returned by tenant stores for unknown tenant ids.
	ErrTenantNotFound = errors.New("permit: tenant not found")
)

// Error wraps a sentinel with the identifiers involved so callers can
// both errors.Is against the sentinel and inspect context.
type Error struct {
	Err        error
	Message    string
	TenantID   string
	SubjectID  string
	Permission string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(sentinel error, msg string) *Error {
	return &Error{Err: sentinel, Message: msg}
}

// DeniedError builds the error CheckStrict raises, carrying the denied
// permission code and the checker's reason.
func DeniedError(tenantID, subjectID, permission, reason string) *Error {
	return &Error{
		Err:        ErrPermissionDenied,
		Message:    reason,
		TenantID:   tenantID,
		SubjectID:  subjectID,
		Permission: permission,
	}
}
