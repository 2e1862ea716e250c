// Package click drives the proximity alarm: one repeating pulse on a single
// actuator whose rate follows the shortest recently requested period.
//
// A request while a pulse is in flight can only shorten it. Closer readings
// therefore speed the alarm up at once, while farther readings only slow it
// down after the current pulse ends.
package click

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
)

// Owner is the name the click alarm claims its actuator under.
const Owner = "click"

// Config holds the click parameters.
type Config struct {
	Channel  haptic.Channel // Actuator owned by the click alarm
	Waveform uint8          // ROM effect played for each pulse
	Tick     time.Duration  // Countdown resolution
}

// DefaultConfig returns the device defaults: strong click on the center
// actuator, 10ms countdown.
func DefaultConfig() Config {
	return Config{
		Channel:  haptic.ChannelCenter,
		Waveform: haptic.WaveformClick,
		Tick:     10 * time.Millisecond,
	}
}

// Shorten applies the shorten-only rule: the result is never longer than
// the time already remaining.
func Shorten(remaining, requested time.Duration) time.Duration {
	if requested < remaining {
		return requested
	}
	return remaining
}

// State is a snapshot of the click controller.
type State struct {
	Active    bool          `json:"active"`
	Remaining time.Duration `json:"remaining_ns"`
	Pulses    uint64        `json:"pulses"`
	Shortened uint64        `json:"shortened"`
	Blocked   uint64        `json:"blocked"` // Requests dropped while another owner held the actuator
	Failures  uint64        `json:"failures"`
}

// Controller owns the click actuator while a pulse is active.
type Controller struct {
	cfg     Config
	player  haptic.Player
	spawner scheduler.Spawner
	log     *slog.Logger
	sink    events.Sink

	mu        sync.Mutex
	active    bool
	remaining time.Duration
	pulses    uint64
	shortened uint64
	blocked   uint64
	failures  uint64
}

// New creates a click controller. Countdowns run as sub-tasks of spawner.
func New(cfg Config, player haptic.Player, spawner scheduler.Spawner, log *slog.Logger, sink events.Sink) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	return &Controller{
		cfg:     cfg,
		player:  player,
		spawner: spawner,
		log:     log,
		sink:    sink,
	}
}

// Request asks for a pulse of the given period.
// Idle: start playback and a countdown of period. Active: shorten only.
// While a tacton holds the actuator the request is dropped.
func (c *Controller) Request(ctx context.Context, period time.Duration) error {
	c.mu.Lock()

	if c.active {
		if next := Shorten(c.remaining, period); next != c.remaining {
			c.log.Debug("click shortened", "from", c.remaining, "to", next)
			c.sink.Emit(events.New(events.ClickShortened,
				"from_ms", c.remaining.Milliseconds(), "to_ms", next.Milliseconds()))
			c.remaining = next
			c.shortened++
		}
		c.mu.Unlock()
		return nil
	}

	if err := c.player.Claim(c.cfg.Channel, Owner); err != nil {
		if errors.Is(err, haptic.ErrChannelBusy) {
			c.blocked++
			c.mu.Unlock()
			c.log.Debug("click deferred", "reason", err)
			return nil
		}
		c.failures++
		c.mu.Unlock()
		return fmt.Errorf("claim click channel: %w", err)
	}

	if err := c.player.Play(c.cfg.Channel, c.cfg.Waveform); err != nil {
		c.player.Release(c.cfg.Channel, Owner)
		c.failures++
		c.mu.Unlock()
		c.sink.Emit(events.New(events.ClickFailed, "error", err.Error()))
		return fmt.Errorf("start click: %w", err)
	}
	c.active = true
	c.remaining = period
	c.pulses++
	c.mu.Unlock()

	c.sink.Emit(events.New(events.ClickStarted,
		"channel", c.cfg.Channel.String(), "period_ms", period.Milliseconds()))
	c.spawner.Spawn("click", c.countdown)
	return nil
}

// countdown burns down the remaining time, then stops playback.
// Cancellation ends the pulse early.
func (c *Controller) countdown(ctx context.Context) error {
	for {
		cancelled := scheduler.Yield(ctx, c.cfg.Tick) != nil

		c.mu.Lock()
		if !cancelled {
			c.remaining -= c.cfg.Tick
			if c.remaining > 0 {
				c.mu.Unlock()
				continue
			}
		}

		err := c.player.Stop(c.cfg.Channel)
		c.player.Release(c.cfg.Channel, Owner)
		c.active = false
		c.remaining = 0
		if err != nil {
			c.failures++
		}
		c.mu.Unlock()

		if err != nil {
			c.sink.Emit(events.New(events.ClickFailed, "error", err.Error()))
			return fmt.Errorf("stop click: %w", err)
		}
		c.sink.Emit(events.New(events.ClickFinished, "cancelled", cancelled))
		return nil
	}
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Active:    c.active,
		Remaining: c.remaining,
		Pulses:    c.pulses,
		Shortened: c.shortened,
		Blocked:   c.blocked,
		Failures:  c.failures,
	}
}
