// Package backoff provides retry delay calculation.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// LinearConfig for linear backoff with jitter. Zero values use defaults.
type LinearConfig struct {
	Step   time.Duration // default: 600s
	Jitter time.Duration // default: 1s, the span of the uniform jitter
}

// Linear returns jitter + step*attempt. Attempt 0 returns jitter only.
// rnd must return a value in [0,1); nil uses math/rand.
func Linear(attempt int, cfg *LinearConfig, rnd func() float64) time.Duration {
	step := 600 * time.Second
	jitterSpan := time.Second
	if cfg != nil {
		if cfg.Step > 0 {
			step = cfg.Step
		}
		if cfg.Jitter > 0 {
			jitterSpan = cfg.Jitter
		}
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	if attempt < 0 {
		attempt = 0
	}

	jitter := time.Duration(rnd() * float64(jitterSpan))
	return jitter + step*time.Duration(attempt)
}
