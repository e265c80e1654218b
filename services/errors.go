package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypePolicyViolation ErrorType = "policy_violation"
	ErrorTypeUpstream        ErrorType = "upstream"
	ErrorTypeIntegrity       ErrorType = "integrity"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	ErrPolicyNotFound     = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrAuditEntryNotFound = NewDomainError(ErrorTypeNotFound, "audit entry not found", nil)
	ErrLedgerNotFound     = NewDomainError(ErrorTypeNotFound, "metering ledger not found", nil)
	ErrProviderNotFound   = NewDomainError(ErrorTypeNotFound, "provider not found", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyMessage = NewDomainError(ErrorTypeValidation, "message cannot be empty", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	ErrLegacyFlagsLocked = NewDomainError(ErrorTypeConfiguration,
		"legacy flags are derived from advanced rules; edit the rules instead", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewConfigurationError reports a malformed policy or rule configuration.
// Raised at save time, never during evaluation.
func NewConfigurationError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, err)
}

// NewPolicyViolationError reports a rule that fired with a block action.
func NewPolicyViolationError(ruleID, ruleType, severity, reason string) *DomainError {
	return NewDomainError(ErrorTypePolicyViolation, "request blocked by policy", nil).
		WithDetail("rule_id", ruleID).
		WithDetail("rule_type", ruleType).
		WithDetail("severity", severity).
		WithDetail("reason", reason)
}

// NewUpstreamError reports a model adapter failure or timeout.
func NewUpstreamError(provider string, err error) *DomainError {
	return NewDomainError(ErrorTypeUpstream, "model provider call failed", err).
		WithDetail("provider", provider)
}

// NewIntegrityError reports an audit hash recomputation mismatch.
func NewIntegrityError(entryID, expected, actual string) *DomainError {
	return NewDomainError(ErrorTypeIntegrity, "audit entry hash mismatch", nil).
		WithDetail("entry_id", entryID).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool { return hasType(err, ErrorTypeConfiguration) }

// IsPolicyViolation checks if an error is a policy violation
func IsPolicyViolation(err error) bool { return hasType(err, ErrorTypePolicyViolation) }

// IsUpstreamError checks if an error came from the model provider
func IsUpstreamError(err error) bool { return hasType(err, ErrorTypeUpstream) }

// IsIntegrityError checks if an error is an audit integrity failure
func IsIntegrityError(err error) bool { return hasType(err, ErrorTypeIntegrity) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
