package serialport

import (
	"errors"

	"go.bug.st/serial"
)

// Open opens the real serial device named by opts.Path, applies the read
// timeout and flushes both queues so the session starts from an empty line.
func Open(opts PortOptions) (Port, error) {
	if opts.Path == "" {
		return nil, &PortError{Op: "open", Err: errors.New("no port path configured")}
	}
	norm, err := opts.Normalise()
	if err != nil {
		return nil, &PortError{Op: "configure", Path: opts.Path, Err: err}
	}
	mode, err := norm.SerialMode()
	if err != nil {
		return nil, &PortError{Op: "configure", Path: opts.Path, Err: err}
	}

	port, err := serial.Open(norm.Path, mode)
	if err != nil {
		return nil, &PortError{Op: "open", Path: norm.Path, Err: err}
	}

	if err := port.SetReadTimeout(norm.ReadTimeout); err != nil {
		port.Close()
		return nil, &PortError{Op: "configure", Path: norm.Path, Err: err}
	}
	if err := Flush(port); err != nil {
		port.Close()
		return nil, &PortError{Op: "flush", Path: norm.Path, Err: err}
	}
	return port, nil
}

// ListPorts returns the serial devices visible to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
