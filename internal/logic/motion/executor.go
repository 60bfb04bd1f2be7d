package motion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/stepcal/internal/debug"
)

// EighthsPerRevolution is the unit of a relative move request.
const EighthsPerRevolution = 8

// ErrTooManySteps is returned when a request does not fit in a step counter.
var ErrTooManySteps = errors.New("requested move is too long")

// Coils applies one half-step index to the motor.
type Coils interface {
	ApplyStep(step uint32) error
}

// Executor turns relative revolution requests into half-steps.
// It sits between the command layer and the coil driver, and never checks
// whether the motor is calibrated: callers pass whichever steps-per-rev
// value they trust.
type Executor struct {
	coils  Coils
	settle time.Duration
	sleep  func(time.Duration)
}

// Config holds the stepping timing. Use the same Settle as calibration so
// the motor sees the same speed and torque.
type Config struct {
	Settle time.Duration
	Sleep  func(time.Duration) // defaults to time.Sleep
}

func NewExecutor(coils Coils, cfg Config) *Executor {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Executor{
		coils:  coils,
		settle: cfg.Settle,
		sleep:  sleep,
	}
}

// HalfSteps returns eighths * (stepsPerRevolution / 8). The per-eighth
// count is truncated, so a value not divisible by 8 loses the remainder.
func HalfSteps(eighths, stepsPerRevolution uint32) uint64 {
	return uint64(eighths) * uint64(stepsPerRevolution/EighthsPerRevolution)
}

// Run moves the motor by eighths/8 of a revolution, applying step indices
// 0, 1, 2, ... with the settle delay after each one. Zero eighths does not
// touch the motor.
func (e *Executor) Run(eighths, stepsPerRevolution uint32) error {
	total := HalfSteps(eighths, stepsPerRevolution)
	if total > math.MaxUint32 {
		return fmt.Errorf("%w: %d eighths at %d steps/rev", ErrTooManySteps, eighths, stepsPerRevolution)
	}
	if total == 0 {
		return nil
	}

	debug.Move(uint32(total), stepsPerRevolution)
	start := time.Now()
	for i := uint32(0); i < uint32(total); i++ {
		if err := e.coils.ApplyStep(i); err != nil {
			return fmt.Errorf("after %d of %d steps: %w", i, total, err)
		}
		e.sleep(e.settle)
	}
	debug.Live("Motion: %d half-steps done in %v", total, time.Since(start))
	return nil
}
