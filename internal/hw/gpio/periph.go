package gpio

import (
	"strconv"

	pkgerrors "github.com/pkg/errors"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/stepcal/internal/debug"
)

// PeriphDriver drives GPIOs through periph.io. Unlike go-rpio it works on
// any board periph supports (and on recent kernels through the gpio
// character device). Pins are looked up by their BCM number.
type PeriphDriver struct {
	pins map[int]pgpio.PinIO
}

// NewPeriphDriver initializes the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")

	state, err := host.Init()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize periph host")
	}
	debug.Verbose("periph drivers loaded: %d", len(state.Loaded))

	return &PeriphDriver{
		pins: make(map[int]pgpio.PinIO),
	}, nil
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(strconv.Itoa(pin))
	if p == nil {
		return nil, pkgerrors.Errorf("no GPIO pin named: %d", pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}

	switch mode {
	case Input:
		err = p.In(pgpio.Float, pgpio.NoEdge)
	case InputPullUp:
		err = p.In(pgpio.PullUp, pgpio.NoEdge)
	case Output:
		err = p.Out(pgpio.Low)
	default:
		return pkgerrors.Errorf("unknown pin mode: %d", mode)
	}
	return pkgerrors.Wrapf(err, "setup pin %d as %s", pin, mode)
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	return pkgerrors.Wrapf(p.Out(pgpio.Level(level)), "write pin %d", pin)
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	p, err := d.lookup(pin)
	if err != nil {
		return Low, err
	}
	level := Level(p.Read())
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph driver)")

	var firstErr error
	for pin, p := range d.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		if err := p.In(pgpio.Float, pgpio.NoEdge); err != nil && firstErr == nil {
			firstErr = pkgerrors.Wrapf(err, "reset pin %d", pin)
		}
	}
	return firstErr
}
