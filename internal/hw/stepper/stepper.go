package stepper

import (
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/stepcal/internal/debug"
	"github.com/cjeanneret/stepcal/internal/hw/gpio"
)

// Phases is the length of the half-step sequence.
const Phases = 8

// halfStepSequence lists the coil levels (IN1..IN4) for each phase of the
// unipolar half-step sequence: A, A+B, B, B+C, C, C+D, D, D+A.
// These are the only output combinations ever written to the coils.
var halfStepSequence = [Phases][4]gpio.Level{
	{gpio.High, gpio.Low, gpio.Low, gpio.Low},
	{gpio.High, gpio.High, gpio.Low, gpio.Low},
	{gpio.Low, gpio.High, gpio.Low, gpio.Low},
	{gpio.Low, gpio.High, gpio.High, gpio.Low},
	{gpio.Low, gpio.Low, gpio.High, gpio.Low},
	{gpio.Low, gpio.Low, gpio.High, gpio.High},
	{gpio.Low, gpio.Low, gpio.Low, gpio.High},
	{gpio.High, gpio.Low, gpio.Low, gpio.High},
}

// Pattern returns a copy of the coil levels for a phase (taken mod 8).
func Pattern(phase int) [4]gpio.Level {
	return halfStepSequence[uint(phase)%Phases]
}

// Config holds the hardware configuration for the motor.
type Config struct {
	Pins [4]int // BCM pins wired to IN1..IN4 of the ULN2003 board
}

// Stepper drives a 4-coil unipolar motor (28BYJ-48 class) one half-step at
// a time. It has no notion of speed; callers own the delay between steps.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	steps atomic.Uint64 // half-steps applied since construction
}

// NewStepper sets up the coil pins as outputs with every coil off.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	for _, pin := range cfg.Pins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup coil pin %d: %w", pin, err)
		}
	}

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
	}
	if err := s.Off(); err != nil {
		return nil, err
	}
	return s, nil
}

// Phase returns the sequence row for a step index (step mod 8).
func Phase(step uint32) int {
	return int(step % Phases)
}

// ApplyStep energizes the coils for the phase of the given step index.
// Applying the same index twice writes the same levels.
func (s *Stepper) ApplyStep(step uint32) error {
	pattern := halfStepSequence[Phase(step)]
	for i, pin := range s.cfg.Pins {
		if err := s.gpio.WritePin(pin, pattern[i]); err != nil {
			return fmt.Errorf("step %d: write coil pin %d: %w", step, pin, err)
		}
	}
	s.steps.Add(1)
	return nil
}

// Off de-energizes all coils. The motor freewheels and stops drawing current.
func (s *Stepper) Off() error {
	debug.Verbose("Stepper: coils off (pins %v)", s.cfg.Pins)
	for _, pin := range s.cfg.Pins {
		if err := s.gpio.WritePin(pin, gpio.Low); err != nil {
			return fmt.Errorf("write coil pin %d: %w", pin, err)
		}
	}
	return nil
}

// Steps returns how many half-steps have been applied so far.
func (s *Stepper) Steps() uint64 {
	return s.steps.Load()
}
