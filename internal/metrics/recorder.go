package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// PollOutcome enumerates how a synchronous wait ended.
type PollOutcome string

const (
	PollReady   PollOutcome = "ready"
	PollFailed  PollOutcome = "failed"
	PollTimeout PollOutcome = "timeout"
)

// Recorder defines observability hooks for the worker pipeline and the submitter.
// All methods must be safe to call concurrently.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncJobOutcome(state string)
	ObserveJobDuration(d time.Duration)
	ObserveToolchainDuration(d time.Duration, exitCode int)
	IncRedelivery(reason string)
	IncSubmission(mode string, success bool)
	IncPollOutcome(outcome PollOutcome)
	ObserveWaitDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)  {}
func (NoopRecorder) IncStageResult(string, ResultLabel)          {}
func (NoopRecorder) IncJobOutcome(string)                        {}
func (NoopRecorder) ObserveJobDuration(time.Duration)            {}
func (NoopRecorder) ObserveToolchainDuration(time.Duration, int) {}
func (NoopRecorder) IncRedelivery(string)                        {}
func (NoopRecorder) IncSubmission(string, bool)                  {}
func (NoopRecorder) IncPollOutcome(PollOutcome)                  {}
func (NoopRecorder) ObserveWaitDuration(time.Duration)           {}
