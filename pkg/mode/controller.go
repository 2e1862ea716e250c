package mode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/sensor"
)

// Config holds the button timing.
type Config struct {
	PollInterval        time.Duration // How often the button is sampled
	ShortPressThreshold time.Duration // Presses shorter than this toggle the mode
	DeadTime            time.Duration // Input ignored this long after a toggle
}

// DefaultConfig returns the device defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        10 * time.Millisecond,
		ShortPressThreshold: 500 * time.Millisecond,
		DeadTime:            500 * time.Millisecond,
	}
}

// Controller is the scheduler task that watches the mode button.
type Controller struct {
	input    sensor.DigitalInput
	state    *State
	debounce *Debouncer
	interval time.Duration
	log      *slog.Logger
	sink     events.Sink
	now      func() time.Time
}

// NewController creates the button task.
func NewController(cfg Config, input sensor.DigitalInput, state *State, log *slog.Logger, sink events.Sink) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	return &Controller{
		input:    input,
		state:    state,
		debounce: NewDebouncer(cfg.ShortPressThreshold, cfg.DeadTime),
		interval: cfg.PollInterval,
		log:      log,
		sink:     sink,
		now:      time.Now,
	}
}

// Name implements scheduler.Task.
func (c *Controller) Name() string { return "mode" }

// Interval implements scheduler.Task.
func (c *Controller) Interval() time.Duration { return c.interval }

// Step samples the button once. The input is active-low.
func (c *Controller) Step(ctx context.Context) error {
	level, err := c.input.ReadLevel()
	if err != nil {
		return fmt.Errorf("read button: %w", err)
	}

	switch c.debounce.Step(c.now(), !level) {
	case ShortPress:
		c.log.Debug("short press detected")
		m := c.state.Toggle()
		c.sink.Emit(events.New(events.ButtonPress, "press", ShortPress.String(), "mode", m.String()))
	case LongPress:
		c.log.Info("long press detected")
		c.sink.Emit(events.New(events.ButtonPress, "press", LongPress.String()))
	}
	return nil
}
