package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the byte stream a SerialMux drives: the motor board's
// USB serial device in production, TestableSerialPort in tests.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// NewRealSerialMux opens the motor board at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
