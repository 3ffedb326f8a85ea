package core

import "time"

const (
	defaultRetryBaseBackoff = 2 * time.Second
	defaultRetryMaxBackoff  = 5 * time.Minute
	defaultRetryMaxAttempts = 5
)

// ExponentialRetryPolicy doubles the delay per attempt, capped at Max. The
// first failed attempt waits Base.
type ExponentialRetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = defaultRetryBaseBackoff
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = defaultRetryMaxBackoff
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

var _ RetryPolicy = ExponentialRetryPolicy{}
