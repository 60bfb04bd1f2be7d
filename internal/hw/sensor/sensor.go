// Package sensor reads the optical interrupter that marks one point of the
// output shaft's revolution.
package sensor

import (
	"fmt"

	"github.com/cjeanneret/stepcal/internal/hw/gpio"
)

// Interrupter is a slotted optical sensor on a single input pin.
// With the pull-up enabled it reads HIGH when the beam is unobstructed and
// LOW when the flag on the shaft blocks it.
type Interrupter struct {
	gpio gpio.Driver
	pin  int
}

// NewInterrupter configures pin as an input, with the internal pull-up when
// pullUp is set.
func NewInterrupter(g gpio.Driver, pin int, pullUp bool) (*Interrupter, error) {
	mode := gpio.Input
	if pullUp {
		mode = gpio.InputPullUp
	}
	if err := g.SetupPin(pin, mode); err != nil {
		return nil, fmt.Errorf("setup sensor pin %d: %w", pin, err)
	}
	return &Interrupter{gpio: g, pin: pin}, nil
}

// Read reports true when the beam is unobstructed.
func (s *Interrupter) Read() (bool, error) {
	level, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		return false, fmt.Errorf("read sensor pin %d: %w", s.pin, err)
	}
	return level == gpio.High, nil
}

// Simulated models a disk with one flag turning with the motor. It is used
// with the mock GPIO backend so the whole program can be exercised off the
// Pi: the beam is blocked while (steps + Offset) mod Period < Width.
type Simulated struct {
	Steps  func() uint64 // half-steps applied so far
	Period uint64        // true half-steps per revolution of the modelled gearbox
	Width  uint64        // half-steps the flag blocks the beam
	Offset uint64
}

// Read reports true when the modelled beam is unobstructed.
func (s *Simulated) Read() (bool, error) {
	if s.Period == 0 {
		return true, nil
	}
	pos := (s.Steps() + s.Offset) % s.Period
	return pos >= s.Width, nil
}
