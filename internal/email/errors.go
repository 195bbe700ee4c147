package email

import (
	"fmt"

	"github.com/example/lead-notifier/internal/retry"
)

// ConfigurationError means the dispatcher cannot run because a required
// setting, such as the provider API key, is missing.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("email: %s is not configured", e.Setting)
}

// ValidationError reports a malformed Request. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("email: invalid %s: %s", e.Field, e.Reason)
}

// DeliveryError is returned when the provider did not accept the message,
// either terminally or after the attempt budget ran out.
type DeliveryError struct {
	Reason     string
	StatusCode int
	Body       []byte
	Attempts   int
	Exhausted  bool
	Err        *retry.Error
}

func (e *DeliveryError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("email: failed to send after %d attempts: %s", e.Attempts, e.Reason)
	}
	return "email: " + e.Reason
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func newDeliveryError(err *retry.Error) *DeliveryError {
	return &DeliveryError{
		Reason:     err.Outcome.Reason,
		StatusCode: err.Outcome.StatusCode,
		Body:       err.Outcome.Body,
		Attempts:   err.Attempts,
		Exhausted:  err.Exhausted,
		Err:        err,
	}
}
