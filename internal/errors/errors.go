package errors

import (
	"errors"
	"fmt"
)

// Category classifies router errors by how they propagate.
type Category string

const (
	// Fatal at startup: missing routes, malformed broker config.
	CategoryConfiguration Category = "CONFIGURATION"

	// Order rejected before any network call: allocation cap, lockdown,
	// zero sizing.
	CategoryValidation Category = "VALIDATION"

	// Adapter call failed in transit. Retried and failed over per policy,
	// surfaced only once the route is exhausted.
	CategoryTransport Category = "TRANSPORT"

	// Broker explicitly refused the order. Terminal for that broker.
	CategoryBusinessReject Category = "BUSINESS_REJECT"

	// Secret unavailable for a broker. Treated as transport for that
	// broker, which forces failover.
	CategoryVault Category = "VAULT"
)

// RouterError is a categorized error with component and operation context.
type RouterError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *RouterError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether the coordinator may retry after this error.
// Only transport-class failures (including vault failures, which force
// failover) are retryable.
func (e *RouterError) IsRetryable() bool {
	return e.Category == CategoryTransport || e.Category == CategoryVault
}

// IsFatal reports whether the error should abort startup.
func (e *RouterError) IsFatal() bool {
	return e.Category == CategoryConfiguration
}

// New creates a categorized error without an underlying cause.
func New(category Category, component, operation, message string) *RouterError {
	return &RouterError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Wrap attaches category and context to an existing error.
func Wrap(err error, category Category, component, operation, message string) *RouterError {
	if err == nil {
		return nil
	}
	return &RouterError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: err,
	}
}

// CategoryOf extracts the category from an error chain. Unclassified errors
// default to transport so the coordinator treats them as retryable faults.
func CategoryOf(err error) Category {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Category
	}
	return CategoryTransport
}

// Convenience constructors mirroring the taxonomy.

func NewConfigurationError(component, operation, message string) *RouterError {
	return New(CategoryConfiguration, component, operation, message)
}

func NewValidationError(component, operation, message string) *RouterError {
	return New(CategoryValidation, component, operation, message)
}

func NewTransportError(component, operation string, err error) *RouterError {
	return Wrap(err, CategoryTransport, component, operation, "transport failure")
}

func NewBusinessRejectError(component, operation, message string) *RouterError {
	return New(CategoryBusinessReject, component, operation, message)
}

func NewVaultError(component, operation string, err error) *RouterError {
	return Wrap(err, CategoryVault, component, operation, "credential access failure")
}
