package haptic

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrUnknownChannel is returned for a selector that is not an actuator.
	ErrUnknownChannel = errors.New("haptic: unknown channel")

	// ErrInvalidWaveform is returned for waveform ids outside the ROM library.
	ErrInvalidWaveform = errors.New("haptic: invalid waveform")

	// ErrInvalidSlot is returned for sequencer slots past the last one.
	ErrInvalidSlot = errors.New("haptic: invalid sequence slot")

	// ErrClosed is returned after the driver has been closed.
	ErrClosed = errors.New("haptic: driver closed")

	// ErrChannelBusy is returned when another owner holds the channel.
	ErrChannelBusy = errors.New("haptic: channel busy")
)

// BusError records which transaction failed on which channel.
type BusError struct {
	// Channel is the actuator the transaction targeted.
	Channel Channel

	// Op names the driver call that failed.
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *BusError) Error() string {
	return fmt.Sprintf("haptic [%s]: %s: %v", e.Channel, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BusError) Unwrap() error {
	return e.Err
}

// IsBusError reports whether err is, or wraps, a *BusError.
func IsBusError(err error) bool {
	var be *BusError
	return errors.As(err, &be)
}
