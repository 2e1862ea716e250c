// tacton runs the wearable haptic controller: object tactons in detection
// mode, distance clicks in proximity mode, a button to switch between them.
//
// With -sim no hardware is touched: actuator calls are logged, the button
// reads presses from stdin (enter = short press, "l" + enter = long press),
// distance sweeps back and forth and the camera sees a scripted scene.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-tacton/internal/config"
	"github.com/teslashibe/go-tacton/internal/log"
	"github.com/teslashibe/go-tacton/pkg/device"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	configPath := flag.String("config", "", "YAML config file (defaults are compiled in)")
	sim := flag.Bool("sim", false, "Simulate all hardware")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	telemetryAddr := flag.String("telemetry", "", "Telemetry listen address (overrides config; \"off\" disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	switch *telemetryAddr {
	case "":
	case "off":
		cfg.Telemetry.Addr = ""
	default:
		cfg.Telemetry.Addr = *telemetryAddr
	}

	log.Init(cfg.LogLevel)

	app, err := device.New(cfg, device.Options{
		Simulate: *sim,
		Log:      log.L(),
	})
	if err != nil {
		log.Error("configuration error", "error", err)
		return 2
	}
	if err := app.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		return 1
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *sim {
		fmt.Println("Simulation: press enter for a short press, \"l\" + enter for a long press. Ctrl+C to exit.")
	}
	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		return 1
	}
	return 0
}
