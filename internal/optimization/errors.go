package optimization

import "fmt"

// Kind classifies an optimization error.
type Kind int

const (
	// KindUnknown is used for errors that do not fit the taxonomy below.
	KindUnknown Kind = iota
	// KindUnknownParameter means a configuration references a hyper-parameter
	// the search space does not declare. Fatal: it is a caller bug.
	KindUnknownParameter
	// KindInvalidDomain means the search space itself is malformed. Fatal,
	// reported before any evaluation runs.
	KindInvalidDomain
	// KindEvaluationFailure means the objective failed for one configuration.
	// The loop records +Inf for it and keeps going.
	KindEvaluationFailure
	// KindSurrogateFitFailure means the surrogate could not be fitted even
	// after retrying with extra jitter. The loop falls back to a random draw.
	KindSurrogateFitFailure
)

func (k Kind) String() string {
	switch k {
	case KindUnknownParameter:
		return "unknown parameter"
	case KindInvalidDomain:
		return "invalid domain"
	case KindEvaluationFailure:
		return "evaluation failure"
	case KindSurrogateFitFailure:
		return "surrogate fit failure"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is.
var (
	ErrUnknownParameter    = &Error{Kind: KindUnknownParameter, Message: "unknown parameter"}
	ErrInvalidDomain       = &Error{Kind: KindInvalidDomain, Message: "invalid domain"}
	ErrEvaluationFailure   = &Error{Kind: KindEvaluationFailure, Message: "evaluation failure"}
	ErrSurrogateFitFailure = &Error{Kind: KindSurrogateFitFailure, Message: "surrogate fit failure"}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind places the error in the taxonomy.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind. It lets the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != KindUnknown && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}
