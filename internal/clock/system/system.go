// Package system provides the wall-clock and timer implementations used in
// production wiring.
package system

import (
	"context"
	"fmt"
	"time"
)

// Clock implements crawler.Clock and crawler.Sleeper using the real time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done. A non-positive d only checks ctx.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	}
}
