package haptic

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Call records a driver invocation for verification.
type Call struct {
	Op       string
	Channel  Channel
	Arg      uint8
	Waveform uint8
	Time     time.Time
}

// String formats the call for logs and test failures.
func (c Call) String() string {
	switch c.Op {
	case "PlayWaveform":
		return fmt.Sprintf("%s(%s slot=%d wf=%d)", c.Op, c.Channel, c.Arg, c.Waveform)
	case "SetLibrary", "SetMode":
		return fmt.Sprintf("%s(%s %d)", c.Op, c.Channel, c.Arg)
	}
	return fmt.Sprintf("%s(%s)", c.Op, c.Channel)
}

// Recorder is a Driver that drives nothing. It logs and records every call,
// which makes it the backend for simulation runs and tests.
// FailFunc, when set, is consulted before each call and may inject an error.
type Recorder struct {
	FailFunc func(op string, ch Channel) error

	mu       sync.Mutex
	log      *slog.Logger
	selected Channel
	calls    []Call
	playing  map[Channel]bool
}

// NewRecorder creates a recorder. A nil logger discards output.
func NewRecorder(log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		log:     log,
		playing: make(map[Channel]bool),
	}
}

// SelectChannel records the selection.
func (r *Recorder) SelectChannel(ch Channel) error {
	return r.record(Call{Op: "SelectChannel", Channel: ch}, func() {
		r.selected = ch
	})
}

// Initialize records the call.
func (r *Recorder) Initialize() error {
	return r.record(Call{Op: "Initialize"}, nil)
}

// SetLibrary records the call.
func (r *Recorder) SetLibrary(id uint8) error {
	return r.record(Call{Op: "SetLibrary", Arg: id}, nil)
}

// SetMode records the call.
func (r *Recorder) SetMode(mode Mode) error {
	return r.record(Call{Op: "SetMode", Arg: uint8(mode)}, nil)
}

// PlayWaveform records the call.
func (r *Recorder) PlayWaveform(slot, waveform uint8) error {
	if slot >= WaveformSequences {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return r.record(Call{Op: "PlayWaveform", Arg: slot, Waveform: waveform}, nil)
}

// Start records the call and marks the selected actuator as playing.
func (r *Recorder) Start() error {
	return r.record(Call{Op: "Start"}, func() {
		r.playing[r.selected] = true
		r.log.Info("buzz", "channel", r.selected)
	})
}

// Stop records the call and marks the selected actuator as idle.
func (r *Recorder) Stop() error {
	return r.record(Call{Op: "Stop"}, func() {
		r.playing[r.selected] = false
		r.log.Debug("buzz stopped", "channel", r.selected)
	})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times op was called on ch.
func (r *Recorder) Count(op string, ch Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && c.Channel == ch {
			n++
		}
	}
	return n
}

// Playing reports whether ch was started and not stopped since.
func (r *Recorder) Playing(ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing[ch]
}

// Reset clears recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call, apply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Op != "SelectChannel" {
		c.Channel = r.selected
	}
	c.Time = time.Now()

	if r.FailFunc != nil {
		if err := r.FailFunc(c.Op, c.Channel); err != nil {
			return err
		}
	}

	r.calls = append(r.calls, c)
	if apply != nil {
		apply()
	}
	return nil
}

var _ Driver = (*Recorder)(nil)
