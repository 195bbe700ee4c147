package retry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/example/lead-notifier/internal/transport"
)

// Category drives the retry loop.
type Category int

const (
	Success Category = iota
	Retryable
	Terminal
)

func (c Category) String() string {
	switch c {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Category   Category
	StatusCode int
	Reason     string
	// MessageID is the receiver's identifier for a delivered message, if any.
	MessageID string
	Body      []byte
	Err       error
}

func Succeeded(statusCode int, messageID string) Outcome {
	return Outcome{Category: Success, StatusCode: statusCode, MessageID: messageID}
}

// Failed classifies a failure by category and records reason.
func Failed(category Category, statusCode int, reason string, body []byte) Outcome {
	return Outcome{Category: category, StatusCode: statusCode, Reason: reason, Body: body}
}

// ClassifyStatus maps an HTTP status to a category. 5xx and 429 are worth
// repeating, every other non-2xx status is not.
func ClassifyStatus(status int) Category {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status >= 500, status == http.StatusTooManyRequests:
		return Retryable
	default:
		return Terminal
	}
}

// ClassifyError maps a transport error to a category.
func ClassifyError(err error) Category {
	var te *transport.Error
	if errors.As(err, &te) && te.Kind == transport.KindRequest {
		return Terminal
	}
	return Retryable
}

// FromTransportError builds the outcome of an attempt that got no response.
func FromTransportError(err error) Outcome {
	return Outcome{Category: ClassifyError(err), Reason: err.Error(), Err: err}
}

// FromStatus builds the outcome of a non-2xx response.
func FromStatus(name string, resp *transport.Response) Outcome {
	return Outcome{
		Category:   ClassifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Reason:     fmt.Sprintf("%s returned error status %d", name, resp.StatusCode),
		Body:       resp.Body,
	}
}

var (
	ErrTerminal         = errors.New("retry: terminal failure")
	ErrRetriesExhausted = errors.New("retry: retries exhausted")
)

// Error is the failure reported by Engine.Run. It matches ErrTerminal or
// ErrRetriesExhausted and unwraps to the underlying cause of the last attempt.
type Error struct {
	Outcome   Outcome
	Attempts  int
	Exhausted bool
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("failed after %d attempts: %s", e.Attempts, e.Outcome.Reason)
	}
	return e.Outcome.Reason
}

func (e *Error) Unwrap() error { return e.Outcome.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRetriesExhausted:
		return e.Exhausted
	case ErrTerminal:
		return !e.Exhausted
	}
	return false
}
