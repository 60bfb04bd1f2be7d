package command

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cjeanneret/stepcal/internal/debug"
	"github.com/cjeanneret/stepcal/internal/logic/calibration"
	"github.com/cjeanneret/stepcal/internal/logic/motion"
)

// LineEnding terminates every response line.
const LineEnding = "\r\n"

var (
	// ErrBusy is returned by TryHandle while another command is running.
	ErrBusy = errors.New("a command is already running")
	// ErrClosed is returned for commands received after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Calibrator measures steps per revolution.
type Calibrator interface {
	Calibrate(maxSteps uint32, obs calibration.Observer) (uint32, error)
}

// Mover executes relative moves.
type Mover interface {
	Run(eighths, stepsPerRevolution uint32) error
}

// State is the calibration state held by the dispatcher.
type State struct {
	Calibrated         bool   `json:"calibrated"`
	StepsPerRevolution uint32 `json:"steps_per_revolution,omitempty"`
}

// Config holds the fixed parameters of the dispatcher.
type Config struct {
	MaxCalibrationSteps uint32 // safety bound passed to every calibration
	NominalStepsPerRev  uint32 // used by run until a calibration succeeds
}

// Dispatcher routes commands to the calibration engine and the motion
// executor and owns the calibration state. Commands run one at a time.
type Dispatcher struct {
	calibrator Calibrator
	mover      Mover
	cfg        Config

	run    sync.Mutex // held for the whole duration of a command
	closed bool       // guarded by run

	mu    sync.RWMutex
	state State
}

func NewDispatcher(c Calibrator, m Mover, cfg Config) *Dispatcher {
	return &Dispatcher{
		calibrator: c,
		mover:      m,
		cfg:        cfg,
	}
}

// State returns a snapshot of the calibration state. It does not wait for a
// running command.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Handle parses and executes one line, writing response lines to w. It waits
// for any command already in progress.
func (d *Dispatcher) Handle(line string, w io.Writer) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	return d.Execute(cmd, w)
}

// TryHandle is Handle without waiting: it fails with ErrBusy if a command is
// in progress.
func (d *Dispatcher) TryHandle(line string, w io.Writer) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	if !d.run.TryLock() {
		return ErrBusy
	}
	defer d.run.Unlock()
	return d.execute(cmd, w)
}

// Execute runs an already parsed command.
func (d *Dispatcher) Execute(cmd Command, w io.Writer) error {
	d.run.Lock()
	defer d.run.Unlock()
	return d.execute(cmd, w)
}

// Close waits for the running command, if any, and makes every later
// command fail with ErrClosed. Once it returns nothing drives the motor
// through this dispatcher again.
func (d *Dispatcher) Close() {
	d.run.Lock()
	defer d.run.Unlock()
	d.closed = true
}

func (d *Dispatcher) execute(cmd Command, w io.Writer) error {
	if d.closed {
		return ErrClosed
	}
	return d.dispatch(cmd, w)
}

func (d *Dispatcher) dispatch(cmd Command, w io.Writer) error {
	debug.Info("Command: %s", cmd.Kind)
	switch cmd.Kind {
	case Status:
		return d.status(w)
	case Calibrate:
		return d.calibrate(w)
	case Run:
		return d.runMotor(cmd, w)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
}

func (d *Dispatcher) status(w io.Writer) error {
	st := d.State()
	if !st.Calibrated {
		reply(w, "Calibrated: no")
		reply(w, "Steps per revolution: not available")
		return nil
	}
	reply(w, "Calibrated: yes")
	reply(w, "Steps per revolution: %d", st.StepsPerRevolution)
	return nil
}

func (d *Dispatcher) calibrate(w io.Writer) error {
	reply(w, "Calibrating (safety bound %d steps)...", d.cfg.MaxCalibrationSteps)
	avg, err := d.calibrator.Calibrate(d.cfg.MaxCalibrationSteps, progress{w})
	if err != nil {
		// A failed run keeps whatever was calibrated before.
		debug.Error(err)
		return err
	}

	d.mu.Lock()
	d.state = State{Calibrated: true, StepsPerRevolution: avg}
	d.mu.Unlock()

	reply(w, "Calibration completed.")
	reply(w, "Average: %d", avg)
	return nil
}

func (d *Dispatcher) runMotor(cmd Command, w io.Writer) error {
	reply(w, "Command: run")

	eighths := uint32(motion.EighthsPerRevolution)
	if cmd.HasArg {
		reply(w, "Argument: %d", cmd.Eighths)
		eighths = cmd.Eighths
	} else {
		reply(w, "Argument: none (full revolution)")
	}
	if eighths == 0 {
		reply(w, "Nothing to do.")
		return nil
	}

	spr := d.cfg.NominalStepsPerRev
	if st := d.State(); st.Calibrated {
		spr = st.StepsPerRevolution
	} else {
		reply(w, "Not calibrated, using nominal %d steps/rev", spr)
	}

	if err := d.mover.Run(eighths, spr); err != nil {
		return err
	}
	reply(w, "Done: %d half-steps", motion.HalfSteps(eighths, spr))
	return nil
}

// progress prints calibration progress markers.
type progress struct{ w io.Writer }

func (p progress) FirstEdge(uint32) {
	reply(p.w, "First low edge found")
}

func (p progress) Interval(n int, steps uint32) {
	reply(p.w, "%d. round steps: %d", n, steps)
}

func reply(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format+LineEnding, args...)
}
