package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "buildrelay"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration     *prom.HistogramVec
	stageResults      *prom.CounterVec
	jobOutcomes       *prom.CounterVec
	jobDuration       prom.Histogram
	toolchainDuration *prom.HistogramVec
	redeliveries      *prom.CounterVec
	submissions       *prom.CounterVec
	pollOutcomes      *prom.CounterVec
	waitDuration      prom.Histogram
}

// NewPrometheusRecorder constructs and registers the pipeline metrics on reg.
// A nil registry gets a private one so tests can construct recorders freely.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual worker pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		jobOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Jobs by terminal state",
		}, []string{"state"}),
		jobDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Total time from dequeue to cleanup",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		toolchainDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "toolchain_duration_seconds",
			Help:      "Duration of toolchain invocations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"exit_code"}),
		redeliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "redeliveries_total",
			Help:      "Jobs handed back to the broker for another attempt",
		}, []string{"reason"}),
		submissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by mode and result",
		}, []string{"mode", "result"}),
		pollOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Synchronous waits by outcome",
		}, []string{"outcome"}),
		waitDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for a result in sync mode",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.jobOutcomes, pr.jobDuration,
		pr.toolchainDuration, pr.redeliveries, pr.submissions, pr.pollOutcomes, pr.waitDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobOutcome(state string) {
	if p == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveToolchainDuration(d time.Duration, exitCode int) {
	if p == nil {
		return
	}
	p.toolchainDuration.WithLabelValues(strconv.Itoa(exitCode)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRedelivery(reason string) {
	if p == nil {
		return
	}
	p.redeliveries.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncSubmission(mode string, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.submissions.WithLabelValues(mode, res).Inc()
}

func (p *PrometheusRecorder) IncPollOutcome(outcome PollOutcome) {
	if p == nil {
		return
	}
	p.pollOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveWaitDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.waitDuration.Observe(d.Seconds())
}
