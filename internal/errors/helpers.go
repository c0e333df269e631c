package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewPolicyDenied creates a delivery denial with the specific reason attached.
// A denial is an outcome, never retryable.
func NewPolicyDenied(reason PolicyReason) *AppError {
	return New(ErrCodePolicyDenied, fmt.Sprintf("delivery denied: %s", reason)).
		WithContext("reason", string(reason))
}

// NewCooldownDenied creates a cooldown denial carrying the seconds remaining.
func NewCooldownDenied(remainingSec int) *AppError {
	return NewPolicyDenied(PolicyCooldown).
		WithContext("remaining_sec", remainingSec)
}

// PolicyReasonOf extracts the denial reason from an error, or "" when
// the error is not a policy denial.
func PolicyReasonOf(err error) PolicyReason {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != ErrCodePolicyDenied {
		return ""
	}
	if r, ok := appErr.Context["reason"].(string); ok {
		return PolicyReason(r)
	}
	return ""
}

// NewTransportError creates a send failure for a gateway API call
func NewTransportError(endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := Wrap(err, ErrCodeTransportFailed, "gateway API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if retryable {
		appErr.Retryable = true
	}

	return appErr
}

// NewGenerationError creates a synthesis failure for a provider call
func NewGenerationError(provider, kind string, err error) *AppError {
	return WrapRetryable(err, ErrCodeGenerationFail, fmt.Sprintf("%s generation failed", kind)).
		WithContext("provider", provider).
		WithContext("kind", kind).
		WithUserMessage("Generation failed, please try again")
}

// NewInvariantError reports corrupted or impossible state
func NewInvariantError(what string) *AppError {
	return New(ErrCodeInvariant, what)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return 400
	case ErrCodeAuthentication:
		return 401
	case ErrCodeAuthorization, ErrCodePolicyDenied:
		return 403
	case ErrCodeNotFound:
		return 404
	case ErrCodeTimeout:
		return 408
	case ErrCodeTransportFailed, ErrCodeGenerationFail:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return 503
	default:
		return 500
	}
}
