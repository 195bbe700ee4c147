package transport

import "errors"

var (
	ErrTimeout      = errors.New("transport: request timed out")
	ErrBodyTooLarge = errors.New("transport: response body too large")
)

type Kind int

const (
	// KindConnection covers DNS, dial, TLS and mid-stream network failures.
	KindConnection Kind = iota
	KindTimeout
	KindCanceled
	// KindRequest means the request could not be built at all.
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindRequest:
		return "request"
	default:
		return "connection"
	}
}

// Error is returned by Client.Do when no usable HTTP response was obtained.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindTimeout {
		return "transport: " + e.Op + ": request timed out: " + e.Err.Error()
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}
