package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorder_SatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("download", time.Millisecond)
	r.IncStageResult("download", ResultFailed)
	r.IncJobOutcome("build_failed")
	r.ObserveJobDuration(time.Second)
	r.ObserveToolchainDuration(time.Second, 1)
	r.IncRedelivery("timeout")
	r.IncSubmission("async", false)
	r.IncPollOutcome(PollReady)
	r.ObserveWaitDuration(time.Second)
}

var _ Recorder = (*PrometheusRecorder)(nil)
