package errors

import (
	stderrors "errors"
	"maps"
	"strings"
)

// ClassifiedError is the error type components return at their boundaries.
// The category drives HTTP status and CLI exit code mapping, the retry
// strategy drives broker redelivery, and the context carries identifiers
// such as the correlation key into logs and JSON error bodies.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// Error renders "category: message" followed by the cause, if any.
func (e *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.category))
	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory { return e.category }

func (e *ClassifiedError) Severity() ErrorSeverity { return e.severity }

func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }

// Message is the human-readable summary without category or cause.
func (e *ClassifiedError) Message() string { return e.message }

func (e *ClassifiedError) Context() ErrorContext { return e.context }

// WithContext returns a copy of e carrying one more context entry.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	cp := *e
	cp.context = maps.Clone(e.context)
	cp.context = cp.context.Set(key, value)
	return &cp
}

// Is matches another ClassifiedError with the same category and message, so
// sentinel values built once can be compared with errors.Is.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

// CanRetry reports whether redelivery may succeed without caller involvement.
func (e *ClassifiedError) CanRetry() bool {
	return e.retry == RetryBackoff
}

// AsClassified finds the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

func IsClassified(err error) bool {
	_, ok := AsClassified(err)
	return ok
}

// HasCategory reports whether the first ClassifiedError in err's chain has category.
func HasCategory(err error, category ErrorCategory) bool {
	return GetCategory(err) == category && IsClassified(err)
}

// GetCategory returns the category of err, or CategoryInternal when err is
// not classified.
func GetCategory(err error) ErrorCategory {
	if classified, ok := AsClassified(err); ok {
		return classified.category
	}
	return CategoryInternal
}

// IsRetryable reports whether err carries a backoff classification.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	classified, ok := AsClassified(err)
	return ok && classified.CanRetry()
}
