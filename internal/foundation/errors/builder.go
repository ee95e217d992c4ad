package errors

// ErrorBuilder assembles a ClassifiedError. Components usually start from one
// of the category constructors below and chain context before calling Build.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of the given category with error severity and no
// retry.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
	}}
}

// WrapError is NewError with cause attached.
func WrapError(cause error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(cause)
}

func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.cause = cause
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder { return b.WithSeverity(SeverityFatal) }

func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }

// Retryable marks the failure as transient; the worker hands such jobs back
// to the broker for delayed redelivery.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	b.err.retry = RetryBackoff
	return b
}

// UserAction marks failures the caller resolves by resubmitting or polling again.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	b.err.retry = RetryUserAction
	return b
}

// Build returns the error. The builder must not be reused afterwards.
func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

// ConfigError reports unusable configuration.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError reports bad caller input such as an empty upload or a
// malformed correlation key.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).UserAction()
}

func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// GoneError reports a resource that existed and was already consumed, such as
// a result retrieved by an earlier request.
func GoneError(message string) *ErrorBuilder {
	return NewError(CategoryGone, message)
}

// StorageError reports an object store failure.
func StorageError(message string) *ErrorBuilder {
	return NewError(CategoryStorage, message).Retryable()
}

// TransportError reports a broker failure.
func TransportError(message string) *ErrorBuilder {
	return NewError(CategoryTransport, message).Retryable()
}

// TimeoutError reports an expired poll deadline; the job may still finish.
func TimeoutError(message string) *ErrorBuilder {
	return NewError(CategoryTimeout, message).UserAction()
}

// BuildError reports a toolchain run that produced no artifact.
func BuildError(message string) *ErrorBuilder {
	return NewError(CategoryBuild, message)
}

// PipelineError reports a job abandoned before the toolchain produced
// anything, e.g. an archive without a manifest.
func PipelineError(message string) *ErrorBuilder {
	return NewError(CategoryPipeline, message).Warning()
}

func ArchiveError(message string) *ErrorBuilder {
	return NewError(CategoryArchive, message)
}

func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
