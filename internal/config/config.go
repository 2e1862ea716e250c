// Package config loads the controller configuration.
//
// Values come from the compiled-in defaults, then an optional YAML file,
// then TACTON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-tacton/pkg/click"
	"github.com/teslashibe/go-tacton/pkg/detection"
	"github.com/teslashibe/go-tacton/pkg/haptic"
	"github.com/teslashibe/go-tacton/pkg/mode"
	"github.com/teslashibe/go-tacton/pkg/proximity"
	"github.com/teslashibe/go-tacton/pkg/tacton"
)

// Environment overrides.
const (
	EnvLogLevel      = "TACTON_LOG_LEVEL"
	EnvTelemetryAddr = "TACTON_TELEMETRY_ADDR"
	EnvI2CBus        = "TACTON_I2C_BUS"
	EnvCamera        = "TACTON_CAMERA"
)

// ErrInvalid is wrapped by every validation problem.
var ErrInvalid = errors.New("invalid config")

// Haptic configures the actuator bus.
type Haptic struct {
	I2CBus        string `yaml:"i2c_bus"` // periph bus name; "" picks the first bus
	MuxAddress    uint16 `yaml:"mux_address"`
	DriverAddress uint16 `yaml:"driver_address"`
	Library       uint8  `yaml:"library"`
}

// Button configures the mode button.
type Button struct {
	GPIO                  uint   `yaml:"gpio"`
	InitialMode           string `yaml:"initial_mode"` // "detection" or "proximity"
	PollIntervalMs        int    `yaml:"poll_interval_ms"`
	ShortPressThresholdMs int    `yaml:"short_press_threshold_ms"`
	DeadTimeMs            int    `yaml:"post_toggle_dead_time_ms"`
}

// Detection configures the camera, detector and tacton dispatch.
type Detection struct {
	Camera              string  `yaml:"camera"`
	Window              int     `yaml:"window"`
	ModelPath           string  `yaml:"model_path"`
	InputSize           int     `yaml:"input_size"`
	NMSThreshold        float32 `yaml:"nms_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IntervalMs          int     `yaml:"interval_ms"`
	CooldownMs          int     `yaml:"cooldown_ms"`
	HoldMs              int     `yaml:"tacton_hold_ms"`
}

// Proximity configures the distance sensor and period mapping.
type Proximity struct {
	IIOPath      string  `yaml:"iio_path"`
	Scale        float64 `yaml:"scale"`
	IntervalMs   int     `yaml:"interval_ms"`
	WindowSize   int     `yaml:"smoothing_window_size"`
	DistanceMin  int     `yaml:"distance_min"`
	DistanceMax  int     `yaml:"distance_max"`
	PeriodMinMs  int     `yaml:"period_min_ms"`
	PeriodMaxMs  int     `yaml:"period_max_ms"`
	UseSmoothed  bool    `yaml:"use_smoothed"`
	ReadRetries  int     `yaml:"read_retries"`
	RetryDelayMs int     `yaml:"read_retry_delay_ms"`
}

// Click configures the proximity alarm pulse.
type Click struct {
	Channel  haptic.Channel `yaml:"channel"`
	Waveform uint8          `yaml:"waveform"`
	TickMs   int            `yaml:"tick_ms"`
}

// Telemetry configures the read-only dashboard.
type Telemetry struct {
	Addr             string `yaml:"addr"` // "" disables the server
	History          int    `yaml:"history"`
	StatusIntervalMs int    `yaml:"status_interval_ms"`
}

// Config is the full controller configuration.
type Config struct {
	LogLevel  string       `yaml:"log_level"`
	Haptic    Haptic       `yaml:"haptic"`
	Button    Button       `yaml:"button"`
	Detection Detection    `yaml:"detection"`
	Proximity Proximity    `yaml:"proximity"`
	Click     Click        `yaml:"click"`
	Tactons   tacton.Table `yaml:"tactons"`
	Telemetry Telemetry    `yaml:"telemetry"`
}

// Default returns the device defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Haptic: Haptic{
			MuxAddress:    haptic.DefaultMuxAddr,
			DriverAddress: haptic.DefaultDriverAddr,
		},
		Button: Button{
			GPIO:                  17,
			InitialMode:           mode.Detection.String(),
			PollIntervalMs:        10,
			ShortPressThresholdMs: 500,
			DeadTimeMs:            500,
		},
		Detection: Detection{
			Camera:              "0",
			Window:              240,
			ModelPath:           "models/yolov8n.onnx",
			InputSize:           640,
			NMSThreshold:        0.45,
			ConfidenceThreshold: detection.DefaultConfidence,
			IntervalMs:          50,
			CooldownMs:          5000,
			HoldMs:              1000,
		},
		Proximity: Proximity{
			IIOPath:      "/sys/bus/iio/devices/iio:device0/in_distance_raw",
			Scale:        1,
			IntervalMs:   10,
			WindowSize:   proximity.DefaultWindowSize,
			DistanceMin:  200,
			DistanceMax:  4000,
			PeriodMinMs:  100,
			PeriodMaxMs:  3000,
			RetryDelayMs: 2,
		},
		Click: Click{
			Channel:  haptic.ChannelCenter,
			Waveform: haptic.WaveformClick,
			TickMs:   10,
		},
		Tactons: tacton.DefaultTable(),
		Telemetry: Telemetry{
			Addr:             ":8080",
			History:          256,
			StatusIntervalMs: 1000,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.parse(data); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	// A tactons section replaces the default table rather than merging.
	var probe struct {
		Tactons yaml.Node `yaml:"tactons"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if !probe.Tactons.IsZero() {
		c.Tactons = nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv applies TACTON_* overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvTelemetryAddr); ok {
		c.Telemetry.Addr = v
	}
	if v := os.Getenv(EnvI2CBus); v != "" {
		c.Haptic.I2CBus = v
	}
	if v := os.Getenv(EnvCamera); v != "" {
		c.Detection.Camera = v
	}
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		bad("log_level %q", c.LogLevel)
	}
	if _, err := c.InitialMode(); err != nil {
		errs = append(errs, err)
	}

	positive := map[string]int{
		"button.poll_interval_ms":         c.Button.PollIntervalMs,
		"button.short_press_threshold_ms": c.Button.ShortPressThresholdMs,
		"detection.interval_ms":           c.Detection.IntervalMs,
		"detection.tacton_hold_ms":        c.Detection.HoldMs,
		"detection.input_size":            c.Detection.InputSize,
		"proximity.interval_ms":           c.Proximity.IntervalMs,
		"proximity.smoothing_window_size": c.Proximity.WindowSize,
		"proximity.period_min_ms":         c.Proximity.PeriodMinMs,
		"click.tick_ms":                   c.Click.TickMs,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			bad("%s must be positive, got %d", key, positive[key])
		}
	}
	if c.Button.DeadTimeMs < 0 {
		bad("button.post_toggle_dead_time_ms must not be negative")
	}
	if c.Detection.CooldownMs < 0 {
		bad("detection.cooldown_ms must not be negative")
	}
	if t := c.Detection.ConfidenceThreshold; t <= 0 || t > 1 {
		bad("detection.confidence_threshold %v outside (0, 1]", t)
	}
	if c.Proximity.DistanceMax <= c.Proximity.DistanceMin {
		bad("proximity.distance_max %d must exceed distance_min %d", c.Proximity.DistanceMax, c.Proximity.DistanceMin)
	}
	if c.Proximity.PeriodMaxMs < c.Proximity.PeriodMinMs {
		bad("proximity.period_max_ms %d below period_min_ms %d", c.Proximity.PeriodMaxMs, c.Proximity.PeriodMinMs)
	}
	if c.Proximity.ReadRetries < 0 {
		bad("proximity.read_retries must not be negative")
	}
	if c.Proximity.RetryDelayMs < 0 {
		bad("proximity.read_retry_delay_ms must not be negative")
	}
	if !c.Click.Channel.Valid() {
		bad("click.channel: %v", haptic.ErrUnknownChannel)
	}
	if c.Click.Waveform < haptic.WaveformMin || c.Click.Waveform > haptic.WaveformMax {
		bad("click.waveform %d outside %d..%d", c.Click.Waveform, haptic.WaveformMin, haptic.WaveformMax)
	}
	if c.Telemetry.History <= 0 {
		bad("telemetry.history must be positive")
	}
	if err := c.Tactons.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tactons: %w", err))
	}
	return errors.Join(errs...)
}

// InitialMode parses button.initial_mode.
func (c *Config) InitialMode() (mode.Mode, error) {
	switch strings.ToLower(c.Button.InitialMode) {
	case "", mode.Detection.String():
		return mode.Detection, nil
	case mode.Proximity.String():
		return mode.Proximity, nil
	}
	return mode.Detection, fmt.Errorf("%w: button.initial_mode %q", ErrInvalid, c.Button.InitialMode)
}

// ModeConfig returns the button timing.
func (c *Config) ModeConfig() mode.Config {
	return mode.Config{
		PollInterval:        ms(c.Button.PollIntervalMs),
		ShortPressThreshold: ms(c.Button.ShortPressThresholdMs),
		DeadTime:            ms(c.Button.DeadTimeMs),
	}
}

// DetectionConfig returns the detection loop parameters.
func (c *Config) DetectionConfig() tacton.DetectionConfig {
	return tacton.DetectionConfig{
		Interval:  ms(c.Detection.IntervalMs),
		Threshold: c.Detection.ConfidenceThreshold,
		Cooldown:  ms(c.Detection.CooldownMs),
	}
}

// Hold returns how long a tacton plays.
func (c *Config) Hold() time.Duration {
	return ms(c.Detection.HoldMs)
}

// ProximityConfig returns the proximity loop parameters.
func (c *Config) ProximityConfig() proximity.Config {
	return proximity.Config{
		Interval:   ms(c.Proximity.IntervalMs),
		WindowSize: c.Proximity.WindowSize,
		Mapping: proximity.Mapping{
			DistanceMin: c.Proximity.DistanceMin,
			DistanceMax: c.Proximity.DistanceMax,
			PeriodMin:   ms(c.Proximity.PeriodMinMs),
			PeriodMax:   ms(c.Proximity.PeriodMaxMs),
		},
		ReadRetries: c.Proximity.ReadRetries,
		RetryDelay:  ms(c.Proximity.RetryDelayMs),
		UseSmoothed: c.Proximity.UseSmoothed,
	}
}

// ClickConfig returns the click pulse parameters.
func (c *Config) ClickConfig() click.Config {
	return click.Config{
		Channel:  c.Click.Channel,
		Waveform: c.Click.Waveform,
		Tick:     ms(c.Click.TickMs),
	}
}

// StatusInterval returns the telemetry status push interval.
func (c *Config) StatusInterval() time.Duration {
	return ms(c.Telemetry.StatusIntervalMs)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
