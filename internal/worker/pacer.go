package worker

import (
	"context"
	"time"
)

// sleepFunc waits for d or until ctx is done; tests replace it to skip real delays
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer enforces the pause between two consecutive downloads
type Pacer struct {
	Delay time.Duration // <= 0 disables the pause
}

// NewPacer creates a pacer with the given delay
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{Delay: delay}
}

// WaitAtLeast pauses for the configured delay or floor, whichever is longer
func (p *Pacer) WaitAtLeast(ctx context.Context, floor time.Duration) error {
	d := floor
	if p != nil && p.Delay > d {
		d = p.Delay
	}
	if d <= 0 {
		return nil
	}
	return sleepFunc(ctx, d)
}
