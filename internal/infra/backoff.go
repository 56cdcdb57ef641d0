package infra

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = time.Second
	backoffMax    = 30 * time.Second
	backoffJitter = 0.2
)

// CalculateBackoff returns the reconnect delay for the given attempt:
// base * 2^attempt capped at max, with ±20% jitter.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	delay := backoffBase * time.Duration(int64(1)<<attempt)
	if delay > backoffMax {
		delay = backoffMax
	}
	factor := 1.0 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(float64(delay) * factor)
}
