package enrollment

import (
	"context"
	"time"
)

// Shutter decides when a guided-capture sample is taken.
type Shutter interface {
	// Wait blocks until the next capture signal or until ctx is done.
	Wait(ctx context.Context) error

	// Reset discards capture signals sent before a capture started.
	Reset()
}

// AutoShutter fires on an explicit Fire call or, failing that, once the
// auto-accept interval has elapsed.
type AutoShutter struct {
	interval time.Duration
	manual   chan struct{}
}

// NewAutoShutter creates a shutter that auto-accepts every interval.
// A zero interval fires immediately.
func NewAutoShutter(interval time.Duration) *AutoShutter {
	return &AutoShutter{
		interval: interval,
		manual:   make(chan struct{}, 1),
	}
}

// Fire requests a capture now. Repeated calls before the next Wait
// collapse into one.
func (s *AutoShutter) Fire() {
	select {
	case s.manual <- struct{}{}:
	default:
	}
}

// Reset implements Shutter.
func (s *AutoShutter) Reset() {
	select {
	case <-s.manual:
	default:
	}
}

// Wait implements Shutter.
func (s *AutoShutter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-s.manual:
		return nil
	default:
	}
	if s.interval <= 0 {
		return nil
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-s.manual:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
