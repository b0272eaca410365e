package base

import (
	"context"
	"time"
)

// MinPacingDelay is the smallest wait between two replayed values
const MinPacingDelay = time.Millisecond

type deliverFunc[N any] func(ctx context.Context, channel string, data N) (override time.Duration, hasOverride bool, err error)

// Pacer delivers replayed values with the delay between them the source
// recorded. The wait before a value is, in order of precedence:
//
//  1. the explicit delay, when positive
//  2. the data time difference computed from the previously delivered value
//  3. the fixed delay, when positive
//  4. the difference of the two value timestamps, at least MinPacingDelay
//
// The first value is delivered without waiting.
type Pacer[N any] struct {
	deliver  deliverFunc[N]
	sleep    func(ctx context.Context, d time.Duration) error
	progress *ProgressReporter

	explicit time.Duration
	fixed    time.Duration

	delivered   int
	lastTS      time.Time
	override    time.Duration
	hasOverride bool
}

// WithFixedDelay sets the delay used instead of timestamp differences
func (p *Pacer[N]) WithFixedDelay(d time.Duration) *Pacer[N] {
	p.fixed = d
	return p
}

// Deliver waits as required and then delivers data produced at ts
func (p *Pacer[N]) Deliver(ctx context.Context, channel string, data N, ts time.Time) error {
	if p.delivered > 0 {
		if err := p.sleep(ctx, p.wait(ts)); err != nil {
			return err
		}
	}
	override, ok, err := p.deliver(ctx, channel, data)
	if err != nil {
		return err
	}
	p.delivered++
	p.lastTS = ts
	p.override, p.hasOverride = override, ok
	if p.progress != nil {
		p.progress.IncrementProcessed(1)
	}
	return nil
}

// Delivered returns the number of values delivered so far
func (p *Pacer[N]) Delivered() int {
	return p.delivered
}

func (p *Pacer[N]) wait(ts time.Time) time.Duration {
	switch {
	case p.explicit > 0:
		return p.explicit
	case p.hasOverride:
		return p.override
	case p.fixed > 0:
		return p.fixed
	}
	if ts.IsZero() || p.lastTS.IsZero() {
		return MinPacingDelay
	}
	d := ts.Sub(p.lastTS)
	if d < MinPacingDelay {
		return MinPacingDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
