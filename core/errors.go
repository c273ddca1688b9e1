package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway error. The set is closed: callers switch
// exhaustively and adding a kind is a breaking change.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindInvalidID  ErrorKind = "invalid_id"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindStorage    ErrorKind = "storage"
	KindProvider   ErrorKind = "provider"
	KindInternal   ErrorKind = "internal"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Entity lifecycle errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidID            = errors.New("invalid identifier")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Execution errors
	ErrChainDisabled      = errors.New("chain is disabled")
	ErrChainEmpty         = errors.New("chain has no steps")
	ErrWorkflowDisabled   = errors.New("workflow is disabled")
	ErrWorkflowEmpty      = errors.New("workflow has no steps")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTimeout            = errors.New("operation timeout")

	// Plugin lifecycle errors
	ErrPluginNotFound          = errors.New("plugin not found")
	ErrPluginAlreadyRegistered = errors.New("plugin already registered")
	ErrInvalidPluginState      = errors.New("invalid plugin state transition")

	// Budget admission errors
	ErrBudgetExceeded = errors.New("budget hard limit exceeded")
)

// GatewayError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type GatewayError struct {
	Kind     ErrorKind // Error classification
	Op       string    // Operation that failed (e.g., "registry.CreateModel")
	ID       string    // Optional ID of the entity involved
	Provider string    // Provider name, set only for KindProvider
	Message  string    // Human-readable message
	Err      error     // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *GatewayError) Error() string {
	switch {
	case e.Kind == KindProvider && e.Provider != "":
		if e.Err != nil {
			return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	case e.Op != "" && e.Err != nil:
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error for an entity id
func NewNotFoundError(op, id string) *GatewayError {
	return &GatewayError{Kind: KindNotFound, Op: op, ID: id, Err: ErrNotFound}
}

// NewConflictError creates a duplicate-create error for an entity id
func NewConflictError(op, id string) *GatewayError {
	return &GatewayError{Kind: KindConflict, Op: op, ID: id, Err: ErrAlreadyExists}
}

// NewStorageError wraps a backend transport or SQL failure
func NewStorageError(op string, err error) *GatewayError {
	return &GatewayError{Kind: KindStorage, Op: op, Err: err}
}

// NewProviderError wraps an upstream HTTP or decode failure from a provider
func NewProviderError(provider, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: KindProvider, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// NewInternalError is reserved for conditions that should be impossible,
// such as serialization failures on internally-produced values.
func NewInternalError(op string, err error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrInvalidID):
		return KindInvalidID
	case errors.Is(err, ErrInvalidConfiguration):
		return KindValidation
	}
	return KindInternal
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict checks if an error represents a duplicate-create condition
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsValidation checks if an error is a validation or identifier error
func IsValidation(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindInvalidID
}
