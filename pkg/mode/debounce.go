package mode

import "time"

// Press classifies a completed button press.
type Press uint8

const (
	// NoPress means the step completed no press.
	NoPress Press = iota

	// ShortPress is a press released before the short-press threshold.
	ShortPress

	// LongPress is a press held at least the threshold. Reserved; it has no
	// effect on the mode.
	LongPress
)

// String returns the press name.
func (p Press) String() string {
	switch p {
	case ShortPress:
		return "short"
	case LongPress:
		return "long"
	}
	return "none"
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseHeld
	phaseDead
)

// Debouncer turns sampled button levels into presses.
//
// Idle -> Held on the first pressed sample; Held -> Idle on release, with the
// held duration deciding short or long. A short press is followed by a dead
// time during which samples are ignored, so one physical press cannot toggle
// twice.
type Debouncer struct {
	shortThreshold time.Duration
	deadTime       time.Duration

	phase     phase
	pressedAt time.Time
	deadUntil time.Time
}

// NewDebouncer creates a debouncer.
func NewDebouncer(shortThreshold, deadTime time.Duration) *Debouncer {
	return &Debouncer{
		shortThreshold: shortThreshold,
		deadTime:       deadTime,
	}
}

// Step feeds one sample taken at now and returns the press it completes.
func (d *Debouncer) Step(now time.Time, pressed bool) Press {
	if d.phase == phaseDead {
		if now.Before(d.deadUntil) {
			return NoPress
		}
		d.phase = phaseIdle
	}

	switch d.phase {
	case phaseIdle:
		if pressed {
			d.phase = phaseHeld
			d.pressedAt = now
		}
		return NoPress

	case phaseHeld:
		if pressed {
			return NoPress
		}
		held := now.Sub(d.pressedAt)
		if held < d.shortThreshold {
			d.phase = phaseDead
			d.deadUntil = now.Add(d.deadTime)
			return ShortPress
		}
		d.phase = phaseIdle
		return LongPress
	}
	return NoPress
}
