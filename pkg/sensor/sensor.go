// Package sensor provides the controller's two scalar inputs: the mode
// button and the time-of-flight distance sensor.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-tacton/pkg/scheduler"
)

// DigitalInput reads one logic level. The mode button is wired with a
// pull-up, so it reads false while pressed.
type DigitalInput interface {
	ReadLevel() (bool, error)
}

// ProximitySensor reads one raw distance sample (millimetres for a VL53L1X).
type ProximitySensor interface {
	Read() (int, error)
}

// Sentinel errors for common error conditions.
var (
	// ErrNoSample is returned when a sensor has nothing to report yet.
	ErrNoSample = errors.New("sensor: no sample")

	// ErrClosed is returned after a sensor has been closed.
	ErrClosed = errors.New("sensor: closed")
)

// DefaultRetryDelay is the pause between two reads of a failing sensor.
const DefaultRetryDelay = 2 * time.Millisecond

// ReadWithRetry reads s up to retries+1 times, pausing delay before each
// extra read, and returns the first success. retries = 0 is a single read.
// Cancelling ctx abandons the remaining attempts.
func ReadWithRetry(ctx context.Context, s ProximitySensor, retries int, delay time.Duration) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := scheduler.Yield(ctx, delay); err != nil {
				return 0, fmt.Errorf("after %d attempts: %w", attempt, errors.Join(lastErr, err))
			}
		}
		v, err := s.Read()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if retries > 0 {
		return 0, fmt.Errorf("after %d attempts: %w", retries+1, lastErr)
	}
	return 0, lastErr
}
