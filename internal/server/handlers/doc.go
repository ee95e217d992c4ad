// Package handlers contains HTTP handlers for the build relay API.
//
// This package provides handlers for:
//   - Payload intake in async and sync mode
//   - One-shot result retrieval and job status lookups
//   - Health reporting
//
// Errors are reported through the foundation/errors HTTP adapter and
// successful responses use the server/responses types.
package handlers
