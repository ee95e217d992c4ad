// Package worker implements the build pipeline and the consume loop that feeds it.
//
// States advance linearly:
//
//	Received → Downloaded → Extracted → ProjectLocated → Built → ArtifactLocated → Published → Cleaned
//
// NoProjectFound, NoArtifactFound and (under the strict build_failure policy)
// BuildFailed end the job early without a result. Every path, including
// errors, goes through the same cleanup: payload deletion, working set
// removal and a final Cleaned record.
//
// Deliveries that fail with a retryable error are handed back to the broker
// with a backoff delay and keep their payload; everything else is acknowledged.
package worker
