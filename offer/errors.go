/*
errors.go - Centralized error types for the offer engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Transport layers map the sentinel categories to status codes; the
  structured errors carry the detail a caller needs to understand why.

ERROR CATEGORIES:
  1. NotFound           - Referenced offer/enquiry/property absent
  2. Forbidden          - Caller fails an ownership/role check
  3. PreconditionFailed - State-machine guard violated
  4. Validation         - Malformed input, rejected before any mutation
  5. Internal           - Persistence or ledger collaborator failure

  None of these are retried by the engine. Notification failures never
  surface here: they are logged and swallowed (see notify.go).

USAGE:
  if errors.Is(err, offer.ErrPreconditionFailed) {
      var pe *offer.PreconditionError
      errors.As(err, &pe) // pe.Reason is human readable
  }

SEE ALSO:
  - service.go: Raises these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package offer

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrValidation         = errors.New("validation failed")
	ErrInternal           = errors.New("internal failure")

	// ErrConcurrentModification is returned by stores when a compare-and-set
	// on offer status finds the status changed underneath.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a payment with the same
	// idempotency key was already recorded. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "offer", "enquiry", "property", "user", "concern"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError records which role check failed.
type ForbiddenError struct {
	CallerID UserID
	Role     string // "buyer" or "seller"
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("caller %q is not the %s of this offer", e.CallerID, e.Role)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// PreconditionError carries a human-readable reason.
type PreconditionError struct {
	Reason string
	Status Status
}

func (e *PreconditionError) Error() string { return e.Reason }

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InternalError wraps a collaborator or persistence failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error { return []error{ErrInternal, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func precondition(status Status, format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...), Status: status}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// internal wraps err unless it already belongs to the taxonomy.
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsClientError(err) || errors.Is(err, ErrInternal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's input or
// the offer's current state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrValidation)
}
