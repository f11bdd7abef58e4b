package iteration

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before a retry. Attempt is 1 for the first retry.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval before every retry.
type Constant time.Duration

func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Exponential grows the delay by Multiplier per attempt, capped at Max, with
// a random spread of ±Jitter (a fraction, e.g. 0.25).
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := e.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := float64(e.Initial) * math.Pow(multiplier, float64(attempt-1))
	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if e.Jitter > 0 {
		spread := delay * e.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(delay)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
