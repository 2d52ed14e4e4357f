package broker

import (
	"math/rand"
	"time"
)

// Backoff spaces reconnect attempts exponentially. MaxAttempts caps the
// number of consecutive failures; zero means no cap.
type Backoff struct {
	Min         time.Duration `json:"min" yaml:"min"`
	Max         time.Duration `json:"max" yaml:"max"`
	Factor      float64       `json:"factor" yaml:"factor"`
	Jitter      float64       `json:"jitter" yaml:"jitter"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
}

func DefaultBackoff() Backoff {
	return Backoff{
		Min:         time.Second,
		Max:         2 * time.Minute,
		Factor:      2.0,
		Jitter:      0.1,
		MaxAttempts: 10,
	}
}

// Exhausted reports whether failures has reached the attempt cap.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = time.Minute
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
