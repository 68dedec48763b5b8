// Package uart defines the narrow byte-stream façade the upgrade engine
// and boot controller consume; implementations live in drivers/mcu (real
// hardware) and internal/fakehw (host-side tests).
package uart

import "errors"

// ErrInvalidHandle reports a port that cannot be opened. Nothing in this
// package returns it; it has no constructor of its own.
var ErrInvalidHandle = errors.New("uart: invalid handle")

// DataCallback fires once whenever a port's receive buffer transitions
// from empty to non-empty. It must be tiny: set a flag and return.
type DataCallback func()

// Port is a non-blocking byte-stream façade over a UART peripheral.
type Port interface {
	// Receive copies up to len(buf) bytes currently buffered into buf and
	// returns how many were copied. It never blocks; it returns 0 if
	// nothing is pending and a non-nil error on device failure.
	Receive(buf []byte) (n int, err error)

	// Send writes buf to the port.
	Send(buf []byte) (n int, err error)

	// SetDataCallback installs the callback that fires once whenever the
	// receive buffer transitions from empty to non-empty.
	SetDataCallback(cb DataCallback)

	// Release tears down the port.
	Release() error
}

// Config selects the line parameters used to open a Port.
type Config struct {
	BaudRate int
	DataBits int
	StopBits int
}

// DefaultConfig is the wire-format default: 115200 8N1.
var DefaultConfig = Config{BaudRate: 115200, DataBits: 8, StopBits: 1}
