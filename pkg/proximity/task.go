package proximity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/sensor"
)

// Clicker accepts click period requests.
type Clicker interface {
	Request(ctx context.Context, period time.Duration) error
}

// Config holds the proximity loop parameters.
type Config struct {
	Interval    time.Duration // Sampling interval
	WindowSize  int           // Smoothing window length
	Mapping     Mapping       // Distance to period mapping
	ReadRetries int           // Extra reads after a failed one (0 = skip the cycle)
	RetryDelay  time.Duration // Pause before each extra read
	UseSmoothed bool          // Map the window mean instead of the raw sample
}

// DefaultConfig returns the device defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Millisecond,
		WindowSize: DefaultWindowSize,
		Mapping:    DefaultMapping(),
		RetryDelay: sensor.DefaultRetryDelay,
	}
}

// Snapshot is the latest reading as seen by the task.
type Snapshot struct {
	Sample  int           `json:"sample"`
	Mean    float64       `json:"mean"`
	Period  time.Duration `json:"period_ns"`
	Samples int           `json:"samples"`
	At      time.Time     `json:"at"`
}

// Task is the scheduler task that polls the distance sensor while the
// controller is in proximity mode and feeds the click controller.
type Task struct {
	cfg    Config
	sensor sensor.ProximitySensor
	state  *mode.State
	clicks Clicker
	window *Window
	log    *slog.Logger

	mu   sync.RWMutex
	last Snapshot
}

// NewTask creates the proximity task.
func NewTask(cfg Config, s sensor.ProximitySensor, state *mode.State, clicks Clicker, log *slog.Logger) *Task {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Task{
		cfg:    cfg,
		sensor: s,
		state:  state,
		clicks: clicks,
		window: NewWindow(cfg.WindowSize),
		log:    log,
	}
}

// Name implements scheduler.Task.
func (t *Task) Name() string { return "proximity" }

// Interval implements scheduler.Task.
func (t *Task) Interval() time.Duration { return t.cfg.Interval }

// Step takes one sample and requests a click with the mapped period.
// It does nothing outside proximity mode.
func (t *Task) Step(ctx context.Context) error {
	if !t.state.Is(mode.Proximity) {
		return nil
	}

	sample, err := sensor.ReadWithRetry(ctx, t.sensor, t.cfg.ReadRetries, t.cfg.RetryDelay)
	if err != nil {
		return fmt.Errorf("read distance: %w", err)
	}

	t.window.Push(sample)
	mean := t.window.Mean()

	source := sample
	if t.cfg.UseSmoothed {
		source = int(mean)
	}
	period := t.cfg.Mapping.Period(source)

	t.mu.Lock()
	t.last = Snapshot{
		Sample:  sample,
		Mean:    mean,
		Period:  period,
		Samples: t.window.Len(),
		At:      time.Now(),
	}
	t.mu.Unlock()

	t.log.Debug("distance sampled", "sample", sample, "mean", mean, "period", period)

	return t.clicks.Request(ctx, period)
}

// Snapshot returns the latest reading.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Window exposes the smoothing window.
func (t *Task) Window() *Window {
	return t.window
}
