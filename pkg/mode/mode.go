// Package mode owns the sensing-mode flag and the button that toggles it.
package mode

import (
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-tacton/pkg/events"
)

// Mode selects which sensing pipeline is active.
//
// The zero value is Detection. The polarity matches the device firmware,
// where the flag reads false while the camera pipeline runs; use the named
// constants rather than bool literals.
type Mode bool

const (
	// Detection runs the camera and object tactons.
	Detection Mode = false

	// Proximity runs the distance sensor and clicks.
	Proximity Mode = true
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Proximity {
		return "proximity"
	}
	return "detection"
}

// State is the process-wide mode flag. Safe for concurrent use.
type State struct {
	v    atomic.Bool
	log  *slog.Logger
	sink events.Sink
}

// NewState creates the flag with an initial mode.
func NewState(initial Mode, log *slog.Logger, sink events.Sink) *State {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	s := &State{log: log, sink: sink}
	s.v.Store(bool(initial))
	return s
}

// Get returns the current mode.
func (s *State) Get() Mode {
	return Mode(s.v.Load())
}

// Is reports whether the current mode is m.
func (s *State) Is(m Mode) bool {
	return s.Get() == m
}

// Set forces the mode.
func (s *State) Set(m Mode) {
	if old := Mode(s.v.Swap(bool(m))); old != m {
		s.changed(m)
	}
}

// Toggle flips the mode and returns the new value.
func (s *State) Toggle() Mode {
	for {
		old := s.v.Load()
		if s.v.CompareAndSwap(old, !old) {
			m := Mode(!old)
			s.changed(m)
			return m
		}
	}
}

func (s *State) changed(m Mode) {
	s.log.Info("mode changed", "mode", m)
	s.sink.Emit(events.New(events.ModeChanged, "mode", m.String()))
}
