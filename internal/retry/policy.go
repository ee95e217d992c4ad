package retry

import (
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/config"
)

// maxShift bounds the exponential doubling before it would overflow.
const maxShift = 32

// Policy decides how long the broker should hold a job back before
// redelivering it after a transient failure. The zero value is not useful;
// build one with NewPolicy or FromConfig.
type Policy struct {
	Mode    config.RetryBackoffMode
	Initial time.Duration
	Max     time.Duration
}

// DefaultPolicy doubles from 2s up to one minute.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 2 * time.Second, Max: time.Minute}
}

// NewPolicy overlays the given values on DefaultPolicy. Non-positive durations
// and unknown modes keep the default; an initial delay above the cap is clamped.
func NewPolicy(mode config.RetryBackoffMode, initial, ceiling time.Duration) Policy {
	p := DefaultPolicy()
	if m := config.NormalizeRetryBackoff(string(mode)); m != "" {
		p.Mode = m
	}
	if initial > 0 {
		p.Initial = initial
	}
	if ceiling > 0 {
		p.Max = ceiling
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// FromConfig builds the policy described by worker.retry.
func FromConfig(cfg config.RetryConfig) Policy {
	return NewPolicy(cfg.Backoff, cfg.InitialDelay, cfg.MaxDelay)
}

// Delay returns the hold-back for a job whose delivery-th attempt just failed.
// Delivery counts start at 1; anything lower yields no delay.
func (p Policy) Delay(delivery int) time.Duration {
	if delivery < 1 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffLinear:
		d = time.Duration(delivery) * p.Initial
	default:
		if delivery > maxShift {
			return p.Max
		}
		d = p.Initial << (delivery - 1)
	}
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}
