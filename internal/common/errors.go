package common

import (
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// UnauthorizedError indicates missing or invalid authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// NewUnauthorizedError creates a new UnauthorizedError.
func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}

// ConflictError indicates the request conflicts with current resource state,
// e.g. cancelling a notification that already reached a terminal outcome.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError creates a new ConflictError.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// ProviderError indicates an external provider failure.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Message: message}
}

// RateLimitedError is a structured deferral, not a hard failure: the caller
// may resubmit once RetryAfter has elapsed.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter)
}

// NewRateLimitedError creates a new RateLimitedError.
func NewRateLimitedError(scope string, retryAfter time.Duration) *RateLimitedError {
	return &RateLimitedError{Scope: scope, RetryAfter: retryAfter}
}

// Template errors are configuration-class: fatal for the call, never retried.

// TemplateNotFoundError indicates an unknown template name.
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template '%s' not found", e.Name)
}

// UnsupportedChannelError indicates a channel the template does not declare.
type UnsupportedChannelError struct {
	Template string
	Channel  string
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("template '%s' does not support channel '%s'", e.Template, e.Channel)
}

// MissingVariableError names a required placeholder absent from the variable bag.
type MissingVariableError struct {
	Template string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template '%s': missing required variable '%s'", e.Template, e.Variable)
}

// DuplicateTemplateError indicates a re-registration rejected by strict mode.
type DuplicateTemplateError struct {
	Name string
}

func (e *DuplicateTemplateError) Error() string {
	return fmt.Sprintf("template '%s' is already registered", e.Name)
}

// IsTemplateError reports whether err belongs to the template error family.
func IsTemplateError(err error) bool {
	switch err.(type) {
	case *TemplateNotFoundError, *UnsupportedChannelError, *MissingVariableError, *DuplicateTemplateError:
		return true
	}
	return false
}
