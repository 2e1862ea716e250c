// Package device assembles the wearable controller: actuator bus, sensors,
// detector, the three behaviours and the scheduler that runs them.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/go-tacton/internal/config"
	"github.com/teslashibe/go-tacton/pkg/click"
	"github.com/teslashibe/go-tacton/pkg/detection"
	"github.com/teslashibe/go-tacton/pkg/detection/opencv"
	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/proximity"
	"github.com/teslashibe/go-tacton/pkg/scheduler"
	"github.com/teslashibe/go-tacton/pkg/sensor"
	"github.com/teslashibe/go-tacton/pkg/tacton"
	"github.com/teslashibe/go-tacton/pkg/telemetry"
)

// Options selects the hardware behind the controller. Any field left nil is
// filled from the config: real hardware normally, simulators when
// Simulate is set.
type Options struct {
	Simulate bool
	Input    io.Reader // Simulated button presses; defaults to stdin
	Log      *slog.Logger
	Sink     events.Sink // Extra event consumer

	Driver    haptic.Driver
	Button    sensor.DigitalInput
	Proximity sensor.ProximitySensor
	Camera    detection.Camera
	Detector  detection.Detector
}

// App is the controller. It owns every component and their lifecycle.
type App struct {
	cfg  *config.Config
	opts Options
	log  *slog.Logger
	sink events.Sink

	bus        *haptic.Bus
	state      *mode.State
	sched      *scheduler.Scheduler
	clicks     *click.Controller
	dispatcher *tacton.Dispatcher
	detect     *tacton.DetectionTask
	prox       *proximity.Task
	buttons    *mode.Controller
	telemetry  *telemetry.Server

	closers []io.Closer
}

// New validates cfg and creates the controller. Hardware is opened in Init.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	return &App{cfg: cfg, opts: opts, log: opts.Log}, nil
}

// Init opens the hardware, initializes every actuator and wires the tasks.
// On error everything opened so far is closed.
func (a *App) Init() (err error) {
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	sinks := events.Fanout{}
	if a.opts.Sink != nil {
		sinks = append(sinks, a.opts.Sink)
	}
	if a.cfg.Telemetry.Addr != "" {
		a.telemetry = telemetry.NewServer(telemetry.Config{
			Addr:           a.cfg.Telemetry.Addr,
			History:        a.cfg.Telemetry.History,
			StatusInterval: a.cfg.StatusInterval(),
		}, telemetry.Sources{}, a.component("telemetry"))
		sinks = append(sinks, a.telemetry)
	}
	a.sink = sinks

	if err := a.openHardware(); err != nil {
		return err
	}

	a.bus = haptic.NewBus(a.opts.Driver, a.component("haptic"))
	if err := a.bus.Init(haptic.Channels, a.cfg.Haptic.Library); err != nil {
		return fmt.Errorf("init actuators: %w", err)
	}

	initial, err := a.cfg.InitialMode()
	if err != nil {
		return err
	}
	a.state = mode.NewState(initial, a.component("mode"), a.sink)
	a.sched = scheduler.New(a.component("scheduler"), a.sink)

	a.clicks = click.New(a.cfg.ClickConfig(), a.bus, a.sched, a.component("click"), a.sink)
	a.dispatcher = tacton.NewDispatcher(a.cfg.Tactons, a.bus, a.cfg.Hold(), a.component("tacton"), a.sink)

	a.buttons = mode.NewController(a.cfg.ModeConfig(), a.opts.Button, a.state, a.component("mode"), a.sink)
	a.detect = tacton.NewDetectionTask(a.cfg.DetectionConfig(), a.opts.Camera, a.opts.Detector,
		a.state, a.dispatcher, a.sched, a.component("detection"), a.sink)
	a.prox = proximity.NewTask(a.cfg.ProximityConfig(), a.opts.Proximity, a.state, a.clicks, a.component("proximity"))

	a.sched.Add(a.buttons)
	a.sched.Add(a.detect)
	a.sched.Add(a.prox)

	if a.telemetry != nil {
		a.telemetry.SetSources(telemetry.Sources{
			Mode:       a.state,
			Scheduler:  a.sched,
			Dispatcher: a.dispatcher,
			Detection:  a.detect,
			Click:      a.clicks,
			Proximity:  a.prox,
			Bus:        a.bus,
		})
	}

	a.log.Info("controller ready",
		"mode", initial.String(),
		"simulate", a.opts.Simulate,
		"tactons", len(a.cfg.Tactons),
		"telemetry", a.cfg.Telemetry.Addr)
	return nil
}

// openHardware fills every Options gap.
func (a *App) openHardware() error {
	o := &a.opts
	if o.Simulate {
		if o.Driver == nil {
			o.Driver = haptic.NewRecorder(a.component("actuator"))
		}
		if o.Button == nil {
			o.Button = sensor.NewLineButton(o.Input)
		}
		if o.Proximity == nil {
			o.Proximity = sensor.NewSweep(a.cfg.Proximity.DistanceMin, a.cfg.Proximity.DistanceMax, 10*time.Second)
		}
		if o.Camera == nil {
			o.Camera = detection.StaticCamera{}
		}
		if o.Detector == nil {
			o.Detector = SimulatedScene()
		}
		return nil
	}

	if o.Driver == nil {
		drv, err := haptic.OpenDRV2605(a.cfg.Haptic.I2CBus, a.cfg.Haptic.MuxAddress, a.cfg.Haptic.DriverAddress)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, drv)
		o.Driver = drv
	}
	if o.Button == nil {
		btn := sensor.OpenGPIOButton(a.cfg.Button.GPIO)
		a.closers = append(a.closers, btn)
		o.Button = btn
	}
	if o.Proximity == nil {
		o.Proximity = sensor.NewIIOProximity(a.cfg.Proximity.IIOPath, a.cfg.Proximity.Scale)
	}
	if o.Camera == nil {
		cam, err := opencv.OpenCamera(opencv.CameraConfig{
			Device: a.cfg.Detection.Camera,
			Window: a.cfg.Detection.Window,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, cam)
		o.Camera = cam
	}
	if o.Detector == nil {
		yolo, err := opencv.NewYOLO(opencv.YOLOConfig{
			ModelPath:   a.cfg.Detection.ModelPath,
			NMSThresh:   a.cfg.Detection.NMSThreshold,
			InputWidth:  a.cfg.Detection.InputSize,
			InputHeight: a.cfg.Detection.InputSize,
		}, a.component("yolo"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, yolo)
		o.Detector = yolo
	}
	return nil
}

// Run drives the controller until ctx is cancelled, then silences every
// actuator.
func (a *App) Run(ctx context.Context) error {
	if a.sched == nil {
		return errors.New("device: Run before Init")
	}

	teleDone := make(chan struct{})
	if a.telemetry != nil {
		go func() {
			defer close(teleDone)
			if err := a.telemetry.Run(ctx); err != nil {
				a.log.Warn("telemetry stopped", "error", err)
			}
		}()
	} else {
		close(teleDone)
	}

	err := a.sched.Run(ctx)

	for _, ch := range haptic.Channels {
		if stopErr := a.bus.Stop(ch); stopErr != nil {
			a.log.Warn("stop actuator on shutdown", "channel", ch.String(), "error", stopErr)
		}
	}
	<-teleDone

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases the hardware.
func (a *App) Shutdown() {
	a.closeAll()
	a.log.Info("controller stopped")
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close", "error", err)
		}
	}
	a.closers = nil
}

// Mode returns the mode flag.
func (a *App) Mode() *mode.State { return a.state }

// Dispatcher returns the tacton dispatcher.
func (a *App) Dispatcher() *tacton.Dispatcher { return a.dispatcher }

// Clicks returns the click controller.
func (a *App) Clicks() *click.Controller { return a.clicks }

// Telemetry returns the dashboard server, or nil when disabled.
func (a *App) Telemetry() *telemetry.Server { return a.telemetry }

func (a *App) component(name string) *slog.Logger {
	return a.log.With("component", name)
}

// SimulatedScene is the detector used in simulation: a walk past furniture,
// a person, then a car, with empty frames in between.
func SimulatedScene() *detection.Script {
	var frames [][]string
	scene := [][]string{
		{"chair"},
		{"person", "chair"},
		{"sink"},
		{"chair", "car"},
		{"dog", "person"},
	}
	for _, objects := range scene {
		frames = append(frames, objects)
		for i := 0; i < 40; i++ {
			frames = append(frames, nil)
		}
	}
	return detection.NewScript(frames...)
}
