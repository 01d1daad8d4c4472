package failures

import (
	"math"
	"time"

	"docflow/internal/config"
)

const maxRetryDelay = 24 * time.Hour

// Policy is the retry policy of one stage.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// PolicyFromConfig converts a configured retry policy.
func PolicyFromConfig(p config.RetryPolicy) Policy {
	return Policy{
		MaxRetries: p.MaxRetries,
		BaseDelay:  config.Seconds(p.BaseDelay),
		Multiplier: p.Multiplier,
	}
}

// Delay returns the exponential backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if delay > float64(maxRetryDelay) || math.IsInf(delay, 0) {
		return maxRetryDelay
	}
	return time.Duration(delay)
}
