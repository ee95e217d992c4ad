// Package errors provides the classified error primitives shared by the
// submitter, the build worker and their front ends.
//
// A ClassifiedError carries a category (storage, transport, timeout, build,
// pipeline...), a severity and a retry strategy. The worker uses the retry
// strategy to decide between acknowledging a delivery and requesting
// redelivery; the HTTP and CLI adapters use the category to pick a status
// or exit code.
//
// Example usage:
//
//	err := errors.StorageError("download payload").
//		WithCause(cause).
//		WithContext("correlation_key", key.String()).
//		Build()
package errors
