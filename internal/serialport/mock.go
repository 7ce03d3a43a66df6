package serialport

import (
	"bytes"
	"sync"
	"time"

	"go.bug.st/serial"
)

// MockPort is an in-memory Port with controllable handshake lines. Two mocks
// joined by Pipe behave like a null-modem cable: bytes written on one end are
// read on the other and one end's DTR is the other end's DSR.
type MockPort struct {
	mu          sync.Mutex
	rbuf        bytes.Buffer
	written     bytes.Buffer
	readTimeout time.Duration
	dtr         bool
	dsr         bool
	breaks      []time.Duration
	writeErrs   []error
	outQueue    int
	flushes     int
	closed      bool
	closeErr    error
	peer        *MockPort

	notify chan struct{}
	done   chan struct{}
}

// NewMockPort returns an unconnected mock with no read timeout (reads block
// until data arrives or the port is closed).
func NewMockPort() *MockPort {
	return &MockPort{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Pipe returns two cross-connected mock ports.
func Pipe() (*MockPort, *MockPort) {
	a, b := NewMockPort(), NewMockPort()
	a.peer, b.peer = b, a
	return a, b
}

// Read returns buffered bytes, waits for more, or returns 0, nil once the
// read timeout elapses.
func (m *MockPort) Read(p []byte) (int, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, ErrClosed
		}
		if m.rbuf.Len() > 0 {
			n, _ := m.rbuf.Read(p)
			m.mu.Unlock()
			return n, nil
		}
		timeout := m.readTimeout
		m.mu.Unlock()

		if timeout > 0 {
			t := time.NewTimer(timeout)
			select {
			case <-m.notify:
				t.Stop()
			case <-m.done:
				t.Stop()
			case <-t.C:
				return 0, nil
			}
			continue
		}
		select {
		case <-m.notify:
		case <-m.done:
		}
	}
}

// Write records p and forwards it to the peer. A scripted error set with
// FailNextWrite is returned instead, once.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		m.mu.Unlock()
		return 0, err
	}
	m.written.Write(p)
	peer := m.peer
	m.mu.Unlock()

	if peer != nil {
		peer.Feed(p)
	}
	return len(p), nil
}

// Feed makes p available to Read, as if it arrived on the wire.
func (m *MockPort) Feed(p []byte) {
	m.mu.Lock()
	m.rbuf.Write(p)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return m.closeErr
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rbuf.Reset()
	m.flushes++
	return nil
}

func (m *MockPort) ResetOutputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outQueue = 0
	return nil
}

// SetDTR drives DTR; on a piped mock this is the peer's DSR.
func (m *MockPort) SetDTR(dtr bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.dtr = dtr
	peer := m.peer
	m.mu.Unlock()

	if peer != nil {
		peer.SetDSR(dtr)
	}
	return nil
}

func (m *MockPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &serial.ModemStatusBits{DSR: m.dsr}, nil
}

func (m *MockPort) Break(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.breaks = append(m.breaks, d)
	return nil
}

func (m *MockPort) OutputQueueLen() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outQueue, nil
}

// SetDSR sets the line the peer would normally drive.
func (m *MockPort) SetDSR(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dsr = on
}

// SetOutputQueueLen sets the value reported by OutputQueueLen.
func (m *MockPort) SetOutputQueueLen(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outQueue = n
}

// FailNextWrite queues err to be returned by the next Write.
func (m *MockPort) FailNextWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs = append(m.writeErrs, err)
}

// SetCloseError sets the error returned by Close.
func (m *MockPort) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// DTR reports the last value passed to SetDTR.
func (m *MockPort) DTR() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dtr
}

// Breaks returns the durations of every Break call.
func (m *MockPort) Breaks() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.breaks...)
}

// Written returns a copy of every byte successfully written.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Flushes counts ResetInputBuffer calls.
func (m *MockPort) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Buffered returns the number of unread bytes.
func (m *MockPort) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rbuf.Len()
}
