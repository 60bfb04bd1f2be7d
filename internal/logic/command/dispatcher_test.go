package command

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/stepcal/internal/hw/gpio"
	"github.com/cjeanneret/stepcal/internal/hw/sensor"
	"github.com/cjeanneret/stepcal/internal/hw/stepper"
	"github.com/cjeanneret/stepcal/internal/logic/calibration"
	"github.com/cjeanneret/stepcal/internal/logic/motion"
)

// fakeCalibrator returns queued results in order.
type fakeCalibrator struct {
	results  []uint32
	errs     []error
	maxSteps []uint32
}

func (c *fakeCalibrator) Calibrate(maxSteps uint32, obs calibration.Observer) (uint32, error) {
	c.maxSteps = append(c.maxSteps, maxSteps)
	res, err := c.results[0], c.errs[0]
	c.results, c.errs = c.results[1:], c.errs[1:]
	if err == nil && obs != nil {
		obs.FirstEdge(10)
		for i := 1; i <= calibration.Revolutions; i++ {
			obs.Interval(i, res)
		}
	}
	return res, err
}

type moveCall struct{ eighths, spr uint32 }

type fakeMover struct {
	calls []moveCall
	block chan struct{}
}

func (m *fakeMover) Run(eighths, spr uint32) error {
	m.calls = append(m.calls, moveCall{eighths, spr})
	if m.block != nil {
		<-m.block
	}
	return nil
}

var testConfig = Config{MaxCalibrationSteps: 20480, NominalStepsPerRev: 4096}

func failed() error {
	return fmt.Errorf("%w: 1 of 4 falling edges", calibration.ErrCalibrationFailed)
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSuffix(buf.String(), LineEnding)
	if s == "" {
		return nil
	}
	return strings.Split(s, LineEnding)
}

func TestDispatcher_StatusUncalibrated(t *testing.T) {
	d := NewDispatcher(&fakeCalibrator{}, &fakeMover{}, testConfig)
	var buf bytes.Buffer
	if err := d.Handle("status", &buf); err != nil {
		t.Fatalf("status: %v", err)
	}
	want := []string{"Calibrated: no", "Steps per revolution: not available"}
	got := lines(&buf)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestDispatcher_ResponsesUseCRLF(t *testing.T) {
	d := NewDispatcher(&fakeCalibrator{}, &fakeMover{}, testConfig)
	var buf bytes.Buffer
	_ = d.Handle("status", &buf)
	out := buf.String()
	if strings.Count(out, "\r\n") != 2 || strings.Count(out, "\n") != 2 {
		t.Errorf("expected 2 CRLF-terminated lines, got %q", out)
	}
}

func TestDispatcher_CalibrateSuccess(t *testing.T) {
	cal := &fakeCalibrator{results: []uint32{4100}, errs: []error{nil}}
	d := NewDispatcher(cal, &fakeMover{}, testConfig)

	var buf bytes.Buffer
	if err := d.Handle("calib", &buf); err != nil {
		t.Fatalf("calib: %v", err)
	}
	if cal.maxSteps[0] != 20480 {
		t.Errorf("calibrator got bound %d, want 20480", cal.maxSteps[0])
	}
	out := buf.String()
	for _, want := range []string{
		"First low edge found",
		"1. round steps: 4100",
		"3. round steps: 4100",
		"Calibration completed.",
		"Average: 4100",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	st := d.State()
	if !st.Calibrated || st.StepsPerRevolution != 4100 {
		t.Errorf("state = %+v, want calibrated 4100", st)
	}

	buf.Reset()
	_ = d.Handle("status", &buf)
	if !strings.Contains(buf.String(), "Calibrated: yes") ||
		!strings.Contains(buf.String(), "Steps per revolution: 4100") {
		t.Errorf("status after calib = %q", buf.String())
	}
}

func TestDispatcher_FailedCalibrationKeepsPreviousState(t *testing.T) {
	cal := &fakeCalibrator{
		results: []uint32{4100, 0},
		errs:    []error{nil, failed()},
	}
	d := NewDispatcher(cal, &fakeMover{}, testConfig)

	var buf bytes.Buffer
	if err := d.Handle("calib", &buf); err != nil {
		t.Fatalf("first calib: %v", err)
	}
	buf.Reset()
	err := d.Handle("calib", &buf)
	if !errors.Is(err, calibration.ErrCalibrationFailed) {
		t.Fatalf("second calib err = %v, want ErrCalibrationFailed", err)
	}
	if strings.Contains(buf.String(), "Calibration completed.") {
		t.Errorf("failed calibration reported success: %q", buf.String())
	}

	buf.Reset()
	_ = d.Handle("status", &buf)
	if !strings.Contains(buf.String(), "Steps per revolution: 4100") {
		t.Errorf("status after failed calib = %q, want previous 4100", buf.String())
	}
}

func TestDispatcher_FailedCalibrationNeverCalibrated(t *testing.T) {
	cal := &fakeCalibrator{results: []uint32{0}, errs: []error{failed()}}
	d := NewDispatcher(cal, &fakeMover{}, testConfig)

	var buf bytes.Buffer
	_ = d.Handle("calib", &buf)
	buf.Reset()
	_ = d.Handle("status", &buf)
	if !strings.Contains(buf.String(), "not available") {
		t.Errorf("status = %q, want not available", buf.String())
	}
}

func TestDispatcher_RunUsesNominalBeforeCalibration(t *testing.T) {
	mv := &fakeMover{}
	d := NewDispatcher(&fakeCalibrator{}, mv, testConfig)

	var buf bytes.Buffer
	if err := d.Handle("run 3", &buf); err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if len(mv.calls) != 1 || mv.calls[0] != (moveCall{3, 4096}) {
		t.Fatalf("mover calls = %+v, want [{3 4096}]", mv.calls)
	}
	if !strings.Contains(buf.String(), "Done: 1536 half-steps") {
		t.Errorf("output = %q, want 1536 half-steps", buf.String())
	}
	if !strings.Contains(buf.String(), "Argument: 3") {
		t.Errorf("output = %q, want argument echo", buf.String())
	}
}

func TestDispatcher_RunBareEqualsRunEight(t *testing.T) {
	cal := &fakeCalibrator{results: []uint32{4100}, errs: []error{nil}}
	mv := &fakeMover{}
	d := NewDispatcher(cal, mv, testConfig)
	var buf bytes.Buffer
	_ = d.Handle("calib", &buf)

	_ = d.Handle("run", &buf)
	_ = d.Handle("run 8", &buf)
	if len(mv.calls) != 2 {
		t.Fatalf("mover called %d times, want 2", len(mv.calls))
	}
	if mv.calls[0] != mv.calls[1] || mv.calls[0] != (moveCall{8, 4100}) {
		t.Errorf("calls = %+v, want two {8 4100}", mv.calls)
	}
}

func TestDispatcher_RunZeroIsNoOp(t *testing.T) {
	mv := &fakeMover{}
	d := NewDispatcher(&fakeCalibrator{}, mv, testConfig)
	var buf bytes.Buffer
	if err := d.Handle("run 0", &buf); err != nil {
		t.Fatalf("run 0: %v", err)
	}
	if len(mv.calls) != 0 {
		t.Errorf("run 0 moved the motor: %+v", mv.calls)
	}
}

func TestDispatcher_InvalidArgumentDoesNotMove(t *testing.T) {
	mv := &fakeMover{}
	d := NewDispatcher(&fakeCalibrator{}, mv, testConfig)
	for _, line := range []string{"run 08", "run abc", "run8", "run  8", "run -1"} {
		var buf bytes.Buffer
		if err := d.Handle(line, &buf); err == nil {
			t.Errorf("%q: expected error, got nil", line)
		}
	}
	if len(mv.calls) != 0 {
		t.Errorf("malformed commands moved the motor: %+v", mv.calls)
	}
}

func TestDispatcher_TryHandleBusy(t *testing.T) {
	mv := &fakeMover{block: make(chan struct{})}
	d := NewDispatcher(&fakeCalibrator{}, mv, testConfig)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var buf bytes.Buffer
		_ = d.Handle("run", &buf)
	}()

	// Wait until the first command holds the lock.
	deadline := time.Now().Add(time.Second)
	for {
		if !d.run.TryLock() {
			break
		}
		d.run.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("first command never started")
		}
		time.Sleep(time.Millisecond)
	}

	var buf bytes.Buffer
	if err := d.TryHandle("run 1", &buf); !errors.Is(err, ErrBusy) {
		t.Errorf("TryHandle while busy = %v, want ErrBusy", err)
	}
	// State can still be read while moving.
	if d.State().Calibrated {
		t.Error("unexpected calibrated state")
	}

	close(mv.block)
	wg.Wait()

	if err := d.TryHandle("status", &buf); err != nil {
		t.Errorf("TryHandle after completion: %v", err)
	}
}

func waitLocked(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for d.run.TryLock() {
		d.run.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("command never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcher_CloseWaitsForRunningCommand(t *testing.T) {
	mv := &fakeMover{block: make(chan struct{})}
	d := NewDispatcher(&fakeCalibrator{}, mv, testConfig)

	runDone := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		runDone <- d.Handle("run", &buf)
	}()
	waitLocked(t, d)

	closeDone := make(chan struct{})
	go func() {
		d.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned while a command was still moving the motor")
	case <-time.After(50 * time.Millisecond):
	}

	close(mv.block)
	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the command finished")
	}
	if err := <-runDone; err != nil {
		t.Errorf("running command = %v, want nil", err)
	}

	var buf bytes.Buffer
	if err := d.Handle("run", &buf); !errors.Is(err, ErrClosed) {
		t.Errorf("Handle after Close = %v, want ErrClosed", err)
	}
	if err := d.TryHandle("calib", &buf); !errors.Is(err, ErrClosed) {
		t.Errorf("TryHandle after Close = %v, want ErrClosed", err)
	}
	if buf.Len() != 0 {
		t.Errorf("closed dispatcher wrote %q", buf.String())
	}
	if len(mv.calls) != 1 {
		t.Errorf("mover calls = %d, want 1", len(mv.calls))
	}
}

func TestDispatcher_CloseIdle(t *testing.T) {
	d := NewDispatcher(&fakeCalibrator{}, &fakeMover{}, testConfig)
	d.Close()
	d.Close()
	var buf bytes.Buffer
	if err := d.Handle("status", &buf); !errors.Is(err, ErrClosed) {
		t.Errorf("Handle after Close = %v, want ErrClosed", err)
	}
	// Parse errors still win over ErrClosed.
	if err := d.Handle("stop", &buf); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Handle(stop) after Close = %v, want ErrUnknownCommand", err)
	}
}

func TestDispatcher_EndToEndWithSimulatedDisk(t *testing.T) {
	drv := gpio.NewMockDriver()
	motor, err := stepper.NewStepper(drv, stepper.Config{Pins: [4]int{2, 3, 6, 13}})
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	disk := &sensor.Simulated{Steps: motor.Steps, Period: 4103, Width: 40, Offset: 2000}
	noSleep := func(time.Duration) {}
	d := NewDispatcher(
		calibration.NewEngine(motor, disk, calibration.Config{Sleep: noSleep}),
		motion.NewExecutor(motor, motion.Config{Sleep: noSleep}),
		testConfig,
	)

	var buf bytes.Buffer
	if err := d.Handle("calib", &buf); err != nil {
		t.Fatalf("calib: %v\n%s", err, buf.String())
	}
	if st := d.State(); st.StepsPerRevolution != 4103 {
		t.Fatalf("calibrated to %d, want 4103", st.StepsPerRevolution)
	}

	before := motor.Steps()
	if err := d.Handle("run", &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	if moved := motor.Steps() - before; moved != 4096 { // 8 * (4103/8)
		t.Errorf("run moved %d steps, want 4096", moved)
	}
}
