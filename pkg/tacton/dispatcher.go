package tacton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
)

// Dispatch outcomes that are not failures.
var (
	ErrBusy        = errors.New("tacton already playing")
	ErrCoolingDown = errors.New("tacton cooling down")
	ErrNoCandidate = errors.New("no known object")
)

// Owner is the name tactons claim their actuator under.
const Owner = "tacton"

// DefaultHold is how long a tacton plays.
const DefaultHold = time.Second

// DefaultCooldown is the minimum time between tacton starts.
const DefaultCooldown = 5 * time.Second

// Dispatch is one tacton playback.
type Dispatch struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Channel  haptic.Channel `json:"channel"`
	Waveform uint8          `json:"waveform"`
	Priority int            `json:"priority"`
	Started  time.Time      `json:"started"`
	Running  bool           `json:"running"`
}

// Stats counts dispatch outcomes.
type Stats struct {
	Dispatched  uint64    `json:"dispatched"`
	Failed      uint64    `json:"failed"`
	Busy        uint64    `json:"busy"`
	CoolingDown uint64    `json:"cooling_down"`
	NoCandidate uint64    `json:"no_candidate"`
	Last        time.Time `json:"last,omitempty"`
	Current     *Dispatch `json:"current,omitempty"`
}

// Dispatcher plays at most one tacton at a time and enforces the cooldown
// between them.
type Dispatcher struct {
	table  Table
	player haptic.Player
	hold   time.Duration
	log    *slog.Logger
	sink   events.Sink
	now    func() time.Time

	mu      sync.Mutex
	current *Dispatch
	last    time.Time
	stats   Stats
}

// NewDispatcher creates a dispatcher for a validated table.
func NewDispatcher(table Table, player haptic.Player, hold time.Duration, log *slog.Logger, sink events.Sink) *Dispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Dispatcher{
		table:  table,
		player: player,
		hold:   hold,
		log:    log,
		sink:   sink,
		now:    time.Now,
	}
}

// Running reports whether a tacton is playing.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

// Last returns the start time of the last completed tacton.
func (d *Dispatcher) Last() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Stats returns a snapshot.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Last = d.last
	if d.current != nil {
		c := *d.current
		s.Current = &c
	}
	return s
}

// Table returns the priority table.
func (d *Dispatcher) Table() Table {
	return d.table
}

// Dispatch plays the tacton of the most urgent label, holds it, then stops
// it. It returns ErrBusy while another tacton plays or the click alarm holds
// the actuator, ErrCoolingDown within cooldown of the last one, and
// ErrNoCandidate when no label is known.
//
// Cancelling ctx cuts the hold short; the actuator is still stopped.
func (d *Dispatcher) Dispatch(ctx context.Context, cooldown time.Duration, labels []string) (Dispatch, error) {
	disp, err := d.begin(cooldown, labels)
	if err != nil {
		if errors.Is(err, ErrNoCandidate) {
			d.log.Debug("no tacton for objects", "labels", labels)
		}
		d.sink.Emit(events.New(events.TactonSkipped, "reason", err.Error(), "labels", labels))
		return Dispatch{}, err
	}

	d.log.Info("tacton",
		"label", disp.Label,
		"channel", disp.Channel.String(),
		"waveform", disp.Waveform,
		"priority", disp.Priority)
	d.sink.Emit(events.New(events.TactonStarted,
		"id", disp.ID,
		"label", disp.Label,
		"channel", disp.Channel.String(),
		"waveform", disp.Waveform))

	if err := d.player.Play(disp.Channel, disp.Waveform); err != nil {
		if stopErr := d.player.Stop(disp.Channel); stopErr != nil {
			d.log.Warn("stop after failed tacton", "channel", disp.Channel.String(), "error", stopErr)
		}
		return d.fail(disp, fmt.Errorf("play tacton %q: %w", disp.Label, err))
	}

	holdErr := scheduler.Yield(ctx, d.hold)

	if err := d.player.Stop(disp.Channel); err != nil {
		return d.fail(disp, fmt.Errorf("stop tacton %q: %w", disp.Label, err))
	}

	d.finish(disp)
	d.sink.Emit(events.New(events.TactonFinished,
		"id", disp.ID,
		"label", disp.Label,
		"cut_short", holdErr != nil))

	done := *disp
	done.Running = false
	return done, holdErr
}

// begin checks and claims the dispatcher in one step.
func (d *Dispatcher) begin(cooldown time.Duration, labels []string) (*Dispatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.stats.Busy++
		return nil, ErrBusy
	}
	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < cooldown {
		d.stats.CoolingDown++
		return nil, ErrCoolingDown
	}
	label, e, ok := d.table.Select(labels)
	if !ok {
		d.stats.NoCandidate++
		return nil, ErrNoCandidate
	}
	if err := d.player.Claim(e.Channel, Owner); err != nil {
		d.stats.Busy++
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}

	d.current = &Dispatch{
		ID:       uuid.New().String(),
		Label:    label,
		Channel:  e.Channel,
		Waveform: e.Waveform,
		Priority: e.Priority,
		Started:  now,
		Running:  true,
	}
	return d.current, nil
}

// finish releases the dispatcher and records the start time for the
// cooldown.
func (d *Dispatcher) finish(disp *Dispatch) {
	d.player.Release(disp.Channel, Owner)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = nil
	d.last = disp.Started
	d.stats.Dispatched++
}

// fail releases the dispatcher without touching the cooldown.
func (d *Dispatcher) fail(disp *Dispatch, err error) (Dispatch, error) {
	d.player.Release(disp.Channel, Owner)
	d.mu.Lock()
	d.current = nil
	d.stats.Failed++
	d.mu.Unlock()

	d.sink.Emit(events.New(events.TactonFailed, "id", disp.ID, "label", disp.Label, "error", err.Error()))
	return Dispatch{}, err
}

// IsSkip reports whether err is a benign dispatch outcome.
func IsSkip(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrCoolingDown) || errors.Is(err, ErrNoCandidate)
}
