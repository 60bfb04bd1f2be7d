package console

import (
	pkgerrors "github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/cjeanneret/stepcal/internal/debug"
)

// DefaultBaud matches the USB CDC console of the reference firmware.
const DefaultBaud = 115200

// OpenSerial opens a serial port (e.g. /dev/ttyACM0 or /dev/serial0) for
// the operator console, 8N1 at the given baud rate.
func OpenSerial(device string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open serial port %s", device)
	}
	debug.Info("Console on serial port %s (%d baud)", device, baud)
	return port, nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list serial ports")
	}
	return ports, nil
}
