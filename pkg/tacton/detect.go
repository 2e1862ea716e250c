package tacton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-tacton/pkg/detection"
	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
)

// DetectionConfig holds the detection loop parameters.
type DetectionConfig struct {
	Interval  time.Duration // Polling interval
	Threshold float64       // Minimum detection confidence
	Cooldown  time.Duration // Minimum time between tactons
}

// DefaultDetectionConfig returns the device defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Interval:  50 * time.Millisecond,
		Threshold: detection.DefaultConfidence,
		Cooldown:  DefaultCooldown,
	}
}

// Sighting is the latest detector result as seen by the task.
type Sighting struct {
	Labels []string  `json:"labels"`
	At     time.Time `json:"at"`
	Frames uint64    `json:"frames"`
}

// DetectionTask is the scheduler task that looks for objects while the
// controller is in detection mode and hands them to the dispatcher.
type DetectionTask struct {
	cfg        DetectionConfig
	camera     detection.Camera
	detector   detection.Detector
	state      *mode.State
	dispatcher *Dispatcher
	spawner    scheduler.Spawner
	log        *slog.Logger
	sink       events.Sink

	mu   sync.RWMutex
	last Sighting
}

// NewDetectionTask creates the detection task.
func NewDetectionTask(cfg DetectionConfig, camera detection.Camera, detector detection.Detector,
	state *mode.State, dispatcher *Dispatcher, spawner scheduler.Spawner,
	log *slog.Logger, sink events.Sink) *DetectionTask {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = events.Nop
	}
	return &DetectionTask{
		cfg:        cfg,
		camera:     camera,
		detector:   detector,
		state:      state,
		dispatcher: dispatcher,
		spawner:    spawner,
		log:        log,
		sink:       sink,
	}
}

// Name implements scheduler.Task.
func (t *DetectionTask) Name() string { return "detection" }

// Interval implements scheduler.Task.
func (t *DetectionTask) Interval() time.Duration { return t.cfg.Interval }

// Step runs one capture and detect cycle. Capture and detector errors skip
// the cycle.
func (t *DetectionTask) Step(ctx context.Context) error {
	if !t.state.Is(mode.Detection) {
		return nil
	}

	frame, err := t.camera.Capture()
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}
	batch, err := t.detector.Detect(frame, t.cfg.Threshold)
	if err != nil {
		return fmt.Errorf("detect objects: %w", err)
	}

	labels := batch.Labels()
	t.mu.Lock()
	t.last = Sighting{Labels: labels, At: time.Now(), Frames: t.last.Frames + 1}
	t.mu.Unlock()

	if len(labels) == 0 {
		return nil
	}
	for i := range batch.Classes {
		if best := batch.Best(i); best != nil && i != detection.BackgroundClass {
			t.log.Debug("detected", "label", batch.Name(i), "count", len(batch.Classes[i]), "confidence", best.Confidence)
		}
	}
	t.sink.Emit(events.New(events.ObjectsDetected, "labels", labels))

	if t.dispatcher.Running() {
		return nil
	}
	t.spawner.Spawn("tacton", func(ctx context.Context) error {
		_, err := t.dispatcher.Dispatch(ctx, t.cfg.Cooldown, labels)
		if IsSkip(err) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return nil
}

// Sighting returns the latest detector result.
func (t *DetectionTask) Sighting() Sighting {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.last
	s.Labels = append([]string(nil), s.Labels...)
	return s
}
