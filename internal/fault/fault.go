package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so that transports can choose a status code
// without looking at internal state
type Kind int

const (
	// Unknown is the zero Kind, reported for errors that carry no fault
	Unknown Kind = iota
	// Decode means the image bytes could not be read
	Decode
	// NotFound means no provider is registered under the requested name
	NotFound
	// ProviderUnavailable means the provider is not ready or an external call failed
	ProviderUnavailable
	// MalformedResponse means a generation engine returned non-JSON or schema-invalid JSON
	MalformedResponse
	// ExtractionFailed covers every other failure during parse
	ExtractionFailed
	// Validation means the structured output broke a schema invariant
	Validation
)

func (k Kind) String() string {
	switch k {
	case Decode:
		return "DecodeError"
	case NotFound:
		return "NotFound"
	case ProviderUnavailable:
		return "ProviderUnavailable"
	case MalformedResponse:
		return "MalformedResponse"
	case ExtractionFailed:
		return "ExtractionFailed"
	case Validation:
		return "ValidationError"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is checks. An *Error matches the sentinel of its Kind.
var (
	ErrDecode              = &Error{Kind: Decode}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrProviderUnavailable = &Error{Kind: ProviderUnavailable}
	ErrMalformedResponse   = &Error{Kind: MalformedResponse}
	ErrExtractionFailed    = &Error{Kind: ExtractionFailed}
	ErrValidation          = &Error{Kind: Validation}
)

// Error is a typed failure with a human-readable message and optional details
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// New creates an Error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that keeps err as its cause
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail returns the error with a structured detail attached
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return Unknown
}
