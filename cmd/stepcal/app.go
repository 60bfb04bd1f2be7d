package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/cjeanneret/stepcal/internal/config"
	"github.com/cjeanneret/stepcal/internal/console"
	"github.com/cjeanneret/stepcal/internal/debug"
	"github.com/cjeanneret/stepcal/internal/hw/gpio"
	"github.com/cjeanneret/stepcal/internal/hw/sensor"
	"github.com/cjeanneret/stepcal/internal/hw/stepper"
	"github.com/cjeanneret/stepcal/internal/logic/calibration"
	"github.com/cjeanneret/stepcal/internal/logic/command"
	"github.com/cjeanneret/stepcal/internal/logic/motion"
	"github.com/cjeanneret/stepcal/internal/web"
)

// Swapped in tests.
var (
	newDriver            = gpio.NewDriver
	consoleIn  io.Reader = os.Stdin
	consoleOut io.Writer = os.Stdout
)

// rig is the assembled hardware and command layer.
type rig struct {
	gpio       gpio.Driver
	motor      *stepper.Stepper
	dispatcher *command.Dispatcher
}

// newRig builds everything below the console from the configuration.
func newRig(g gpio.Driver, cfg *config.Config) (*rig, error) {
	debug.Step(2, "Initializing stepper motor")
	motor, err := stepper.NewStepper(g, stepper.Config{Pins: cfg.CoilPins()})
	if err != nil {
		return nil, fmt.Errorf("init motor: %w", err)
	}
	debug.PrintStruct("Motor config", cfg.Motor)

	debug.Step(3, "Initializing sensor")
	var sens calibration.Sensor
	if cfg.Defaults.GPIOBackend == gpio.BackendMock {
		// Start half a revolution away from the flag so the first read is unobstructed.
		sens = &sensor.Simulated{
			Steps:  motor.Steps,
			Period: cfg.Sensor.SimPeriod,
			Width:  cfg.Sensor.SimWidth,
			Offset: cfg.Sensor.SimPeriod / 2,
		}
		debug.Value("Simulated disk period", cfg.Sensor.SimPeriod)
	} else {
		sens, err = sensor.NewInterrupter(g, cfg.Sensor.Pin, cfg.SensorPullUp())
		if err != nil {
			return nil, fmt.Errorf("init sensor: %w", err)
		}
	}
	debug.PrintStruct("Sensor config", cfg.Sensor)

	debug.Step(4, "Creating calibration engine and motion executor")
	engine := calibration.NewEngine(motor, sens, calibration.Config{Settle: cfg.StepDelay()})
	executor := motion.NewExecutor(motor, motion.Config{Settle: cfg.StepDelay()})
	dispatcher := command.NewDispatcher(engine, executor, command.Config{
		MaxCalibrationSteps: cfg.Motor.MaxCalibrationSteps,
		NominalStepsPerRev:  cfg.Motor.NominalStepsPerRev,
	})

	return &rig{gpio: g, motor: motor, dispatcher: dispatcher}, nil
}

// Close waits for the running command, then de-energizes the coils and
// releases the GPIO driver. Commands arriving afterwards are refused.
func (r *rig) Close() error {
	r.dispatcher.Close()
	offErr := r.motor.Off()
	closeErr := r.gpio.Close()
	return errors.Join(offErr, closeErr)
}

// openConsole returns the console streams: the serial port when a device is
// configured, stdin/stdout otherwise.
func openConsole(cfg *config.Config) (io.Reader, io.Writer, io.Closer, bool, error) {
	if cfg.Console.Device == "" {
		f, ok := consoleOut.(*os.File)
		color := ok && term.IsTerminal(int(f.Fd()))
		return consoleIn, consoleOut, io.NopCloser(consoleIn), color, nil
	}
	port, err := console.OpenSerial(cfg.Console.Device, cfg.Console.Baud)
	if err != nil {
		return nil, nil, nil, false, err
	}
	return port, port, port, false, nil
}

func run(parent context.Context, cfg *config.Config, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("GPIO backend", cfg.Defaults.GPIOBackend)

	debug.Step(1, "Initializing GPIO driver")
	g, err := newDriver(cfg.Defaults.GPIOBackend)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	r, err := newRig(g, cfg)
	if err != nil {
		_ = g.Close()
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			debug.Error(fmt.Errorf("shutdown: %w", err))
		}
	}()

	in, out, closer, color, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	webErr := make(chan error, 1)
	if cfg.Defaults.WebPort > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.AddHook(broadcaster.Hook())
		srv := web.NewServer(fmt.Sprintf(":%d", cfg.Defaults.WebPort), broadcaster, r.dispatcher)
		go func() {
			err := srv.Run(ctx)
			if err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
			}
			webErr <- err
		}()
	} else {
		close(webErr)
	}

	debug.Info("Ready: status, calib, run [N]")
	con := console.New(in, out, r.dispatcher, console.Options{Color: color})
	if err := con.Run(ctx); err != nil {
		return err
	}

	// The console input is gone. Keep serving the web surface until
	// interrupted.
	if cfg.Defaults.WebPort > 0 && ctx.Err() == nil {
		debug.Info("Console closed, web server still running")
	}
	return <-webErr
}
