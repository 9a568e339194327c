package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer inserts a random delay in [Min, Max] before every outbound gateway
// request. It is a plain spacing rule with no burst allowance.
type Pacer struct {
	Min, Max time.Duration

	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a pacer drawing delays uniformly from [min, max].
func NewPacer(min, max time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{Min: min, Max: max, Sleep: SleepContext}
}

// Wait blocks for the next delay or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	d := p.next()
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, d)
}

func (p *Pacer) next() time.Duration {
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int64N(int64(span)+1))
}

// SleepContext sleeps for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
