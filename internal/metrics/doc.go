// Package metrics provides observability hooks for the build relay.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional:
//
//	p := worker.NewPipeline(deps) // NoopRecorder unless deps.Recorder is set
//
// When metrics.enabled is set the commands construct a PrometheusRecorder on a
// dedicated registry and expose it via HTTPHandler.
package metrics
