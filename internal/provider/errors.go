package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no provider has the requested id
	ErrNotFound = errors.New("storage provider not found")

	// ErrNoProviderAvailable means no enabled provider exists to route to.
	// The registry seeds a permanently enabled local provider, so this
	// signals a damaged configuration rather than a user error.
	ErrNoProviderAvailable = errors.New("no storage provider available")
)

// Preconditions reported by PreconditionFailedError
const (
	PreconditionEnabled     = "enabled"
	PreconditionCredentials = "credentials"
)

// ValidationError is returned when a create or patch would violate an invariant
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// PreconditionFailedError is returned by SetDefault when the target is not eligible
type PreconditionFailedError struct {
	ProviderID   string `json:"provider_id"`
	Precondition string `json:"precondition"`
	Reason       string `json:"reason"`
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("provider %s cannot become default: %s precondition failed: %s", e.ProviderID, e.Precondition, e.Reason)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPreconditionFailed reports whether err is a PreconditionFailedError
func IsPreconditionFailed(err error) bool {
	var p *PreconditionFailedError
	return errors.As(err, &p)
}
