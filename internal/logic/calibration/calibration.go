// Package calibration measures the real number of half-steps per output
// revolution by timing falling edges of the optical interrupter.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/stepcal/internal/debug"
)

// Revolutions is the number of full turns averaged by one calibration.
// Measuring them takes Revolutions+1 falling edges.
const Revolutions = 3

// ErrCalibrationFailed is returned when too few edges were seen before the
// safety bound was reached (sensor disconnected, motor stalled, ...).
var ErrCalibrationFailed = errors.New("calibration failed")

// Coils applies one half-step index to the motor.
type Coils interface {
	ApplyStep(step uint32) error
}

// Sensor reports whether the interrupter beam is unobstructed.
type Sensor interface {
	Read() (bool, error)
}

// Observer receives progress while a calibration runs. Either method may be
// left as a no-op.
type Observer interface {
	// FirstEdge is called when the first falling edge starts the measurement.
	FirstEdge(step uint32)
	// Interval is called with the 1-based revolution number and its length.
	Interval(n int, steps uint32)
}

// Sample holds the step count of each measured revolution.
type Sample [Revolutions]uint32

// Average returns the mean revolution length, truncated toward zero.
func (s Sample) Average() uint32 {
	var sum uint64
	for _, v := range s {
		sum += uint64(v)
	}
	return uint32(sum / Revolutions)
}

// Config holds the timing of a calibration run.
type Config struct {
	Settle time.Duration       // wait after each step before sampling the sensor
	Sleep  func(time.Duration) // defaults to time.Sleep
}

// Engine steps the motor while sampling the sensor.
type Engine struct {
	coils  Coils
	sensor Sensor
	settle time.Duration
	sleep  func(time.Duration)
}

// NewEngine creates a calibration engine.
func NewEngine(coils Coils, sensor Sensor, cfg Config) *Engine {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Engine{
		coils:  coils,
		sensor: sensor,
		settle: cfg.Settle,
		sleep:  sleep,
	}
}

// Calibrate turns the motor until Revolutions full turns have been measured
// and returns their average length in half-steps. The motor never applies
// more than maxSteps+1 steps; if the edges were not all seen by then the
// error wraps ErrCalibrationFailed. obs may be nil.
func (e *Engine) Calibrate(maxSteps uint32, obs Observer) (uint32, error) {
	sample, err := e.Measure(maxSteps, obs)
	if err != nil {
		return 0, err
	}
	avg := sample.Average()
	debug.Info("Calibration: intervals %v, average %d half-steps/rev", sample, avg)
	return avg, nil
}

// Measure collects the raw revolution lengths without averaging them.
func (e *Engine) Measure(maxSteps uint32, obs Observer) (Sample, error) {
	var sample Sample

	prev, err := e.sensor.Read()
	if err != nil {
		return sample, err
	}

	var (
		step      uint32 // steps applied so far; also the next step index
		sinceEdge uint32 // steps since the last falling edge
		edges     int
	)
	for {
		if err := e.coils.ApplyStep(step); err != nil {
			return sample, err
		}
		e.sleep(e.settle)
		step++
		if edges > 0 {
			sinceEdge++
		}

		cur, err := e.sensor.Read()
		if err != nil {
			return sample, err
		}

		// Falling edge: unobstructed -> obstructed.
		if prev && !cur {
			debug.Edge(edges+1, step)
			if edges == 0 {
				if obs != nil {
					obs.FirstEdge(step)
				}
			} else {
				sample[edges-1] = sinceEdge
				debug.Verbose("Calibration: revolution %d took %d steps", edges, sinceEdge)
				if obs != nil {
					obs.Interval(edges, sinceEdge)
				}
				sinceEdge = 0
			}
			edges++
		}
		prev = cur

		if edges > Revolutions || step > maxSteps || step == math.MaxUint32 {
			break
		}
	}

	if edges <= Revolutions {
		return sample, fmt.Errorf("%w: %d of %d falling edges within %d steps",
			ErrCalibrationFailed, edges, Revolutions+1, maxSteps)
	}
	return sample, nil
}
