package errors

// ErrorCategory groups failures by the component or condition that produced them.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryGone       ErrorCategory = "gone"

	// Backing services.
	CategoryStorage   ErrorCategory = "storage"
	CategoryTransport ErrorCategory = "transport"
	CategoryTimeout   ErrorCategory = "timeout"

	// Worker pipeline.
	CategoryBuild      ErrorCategory = "build"
	CategoryPipeline   ErrorCategory = "pipeline"
	CategoryArchive    ErrorCategory = "archive"
	CategoryFileSystem ErrorCategory = "filesystem"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity selects the log level used when the error is reported.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy tells the worker whether a failed delivery is worth
// redelivering.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext holds structured fields such as the correlation key.
type ErrorContext map[string]any

// Set stores value under key, allocating the map when c is nil.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

func (c ErrorContext) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
