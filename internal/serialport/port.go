// Package serialport abstracts the serial link used by the magnetometer
// transmitter and receiver so that both ends can run against real hardware
// (go.bug.st/serial) or the in-memory mocks in this package.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by the mock ports after Close.
var ErrClosed = errors.New("serial port closed")

// Port is the subset of serial.Port the protocol relies on: byte I/O plus the
// DTR/DSR handshake lines, break signalling and queue flushing.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds a Read that has no data. A timed out Read
	// returns 0, nil.
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	// SetDTR drives the data-terminal-ready line ("receiver ready").
	SetDTR(dtr bool) error
	// GetModemStatusBits reports the input lines; DSR means "peer present".
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	// Break holds the line in break condition ("start transmission").
	Break(d time.Duration) error
}

// OutputQueuer is implemented by ports that can report how many bytes are
// still waiting in the outbound driver queue. go.bug.st/serial ports do not
// implement it, so only MockPort reports a depth.
type OutputQueuer interface {
	OutputQueueLen() (int, error)
}

// Opener opens a port described by opts.
type Opener func(opts PortOptions) (Port, error)

// PortError wraps a failure from the serial subsystem with the operation and
// device it relates to.
type PortError struct {
	Op   string
	Path string
	Err  error
}

func (e *PortError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// DSR reports whether the peer's data-set-ready line is asserted. Errors read
// as "not connected".
func DSR(p Port) bool {
	bits, err := p.GetModemStatusBits()
	if err != nil || bits == nil {
		return false
	}
	return bits.DSR
}

// OutputQueueLen returns the outbound queue depth when the port exposes it,
// -1 otherwise. Ports from Open always return -1.
func OutputQueueLen(p Port) int {
	q, ok := p.(OutputQueuer)
	if !ok {
		return -1
	}
	n, err := q.OutputQueueLen()
	if err != nil {
		return -1
	}
	return n
}

// Flush discards both driver queues.
func Flush(p Port) error {
	return errors.Join(p.ResetInputBuffer(), p.ResetOutputBuffer())
}

// IsClosed reports whether err means the port has been closed underneath the
// caller, which is the only write failure the transmitter treats as fatal.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var pe interface{ Code() serial.PortErrorCode }
	if errors.As(err, &pe) {
		return pe.Code() == serial.PortClosed
	}
	return false
}
