package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *Error {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *Error {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// Transport creates a connection-level error that requires a reconnect
func Transport(endpoint string, err error) *Error {
	return Wrap(err, ErrCodeTransport, fmt.Sprintf("connection to %s lost, reconnect required", endpoint)).
		WithDetail("endpoint", endpoint)
}

// Malformed creates an error for a frame or payload that could not be decoded
func Malformed(source string, err error) *Error {
	return Wrap(err, ErrCodeMalformedMessage, fmt.Sprintf("malformed message from %s", source)).
		WithDetail("source", source)
}

// UnknownVariant creates an error for a SmartBit type with no registered constructor
func UnknownVariant(appType string) *Error {
	return New(ErrCodeUnknownVariant, fmt.Sprintf("no smartbit registered for type '%s'", appType)).
		WithDetail("type", appType)
}

// UnknownAction creates an error for an action a SmartBit does not handle
func UnknownAction(appType, action string) *Error {
	return New(ErrCodeUnknownAction, fmt.Sprintf("%s does not handle action '%s'", appType, action)).
		WithDetail("type", appType).
		WithDetail("action", action)
}

// BackendUnavailable creates an error for a kernel backend that cannot accept requests
func BackendUnavailable(url string, err error) *Error {
	return Wrap(err, ErrCodeBackendUnavailable, fmt.Sprintf("kernel backend %s unavailable", url)).
		WithDetail("url", url)
}

// Timeout creates an error for an execution that never produced a result
func Timeout(requestID string, after time.Duration) *Error {
	return New(ErrCodeTimeout, fmt.Sprintf("execution %s timed out after %s", requestID, after)).
		WithDetail("request_id", requestID).
		WithDetail("timeout", after.String())
}

// Cancelled creates an error for an execution whose owner went away
func Cancelled(requestID, reason string) *Error {
	return New(ErrCodeCancelled, fmt.Sprintf("execution %s cancelled: %s", requestID, reason)).
		WithDetail("request_id", requestID)
}

// ShutdownTimeout creates an error for a component that did not stop in time
func ShutdownTimeout(component string, after time.Duration) *Error {
	return New(ErrCodeShutdownTimeout,
		fmt.Sprintf("%s did not stop within %s", component, after)).
		WithDetail("component", component).
		WithDetail("timeout", after.String())
}
