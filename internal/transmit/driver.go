// Package transmit is the sending half of the magnetometer link. A Driver
// streams a finite sequence of samples as 25-byte packets for as long as the
// receiver holds DSR, pacing itself with a fixed delay on each half of the
// activity LED toggle.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/timeutil"
)

const (
	DefaultInterval     = 20 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrExhausted is returned by Run once every sample has been sent.
var ErrExhausted = errors.New("sample sequence exhausted")

// Config tunes a Driver. Zero values take the defaults.
type Config struct {
	// Interval is applied twice per packet: LED on, wait, LED off, wait.
	Interval time.Duration
	// PollInterval is how often Serve samples DSR while the link is down.
	PollInterval time.Duration
	Clock        timeutil.Clock
	Logf         func(format string, v ...interface{})
}

// Stats is a snapshot of the transmitter indicators.
type Stats struct {
	Connected  bool  `json:"connected"`
	Index      int   `json:"index"`
	Total      int   `json:"total"`
	Packets    int64 `json:"packets"`
	BytesSent  int   `json:"bytes_sent"`
	TotalBytes int64 `json:"total_bytes"`
	// OutQueue is the outbound driver queue depth after the last write, or -1
	// when the port cannot report it, which is always the case for hardware
	// ports opened through go.bug.st/serial.
	OutQueue   int   `json:"out_queue"`
	Checksum   byte  `json:"checksum"`
	Errors     int64 `json:"errors"`
	LED        bool  `json:"led"`
}

// Driver owns a port in the sender role.
type Driver struct {
	port    serialport.Port
	samples []packet.Sample
	cfg     Config
	clock   timeutil.Clock
	logf    func(format string, v ...interface{})

	// mu serialises one send cycle against Quit.
	mu   sync.Mutex
	next int
	quit bool

	statsMu      sync.Mutex
	stats        Stats
	eventsClosed bool

	events    chan Stats
	quitCh    chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	running   sync.WaitGroup
}

// NewDriver returns a driver that will send samples over port in order.
func NewDriver(port serialport.Port, samples []packet.Sample, cfg Config) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Driver{
		port:    port,
		samples: samples,
		cfg:     cfg,
		clock:   cfg.Clock,
		logf:    monitoring.Func(cfg.Logf),
		stats:   Stats{Total: len(samples), OutQueue: -1},
		events:  make(chan Stats, 64),
		quitCh:  make(chan struct{}),
	}
}

// Connected reports the receiver's DSR line.
func (d *Driver) Connected() bool {
	on := serialport.DSR(d.port)
	d.statsMu.Lock()
	changed := d.stats.Connected != on
	d.stats.Connected = on
	d.statsMu.Unlock()
	if changed {
		d.publish()
	}
	return on
}

// Run sends packets until the link drops (nil), Quit is called (nil), the
// samples run out (ErrExhausted), ctx ends, or the port is closed under it.
// Other write failures are counted and the loop carries on.
func (d *Driver) Run(ctx context.Context) error {
	d.running.Add(1)
	defer d.running.Done()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Connected() {
			return nil
		}
		stop, err := d.sendNext()
		if stop || err != nil {
			return err
		}
	}
}

// sendNext performs one cycle under mu. stop is true when the loop should
// end.
func (d *Driver) sendNext() (stop bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.quit {
		return true, nil
	}
	if d.next >= len(d.samples) {
		return true, ErrExhausted
	}

	pkt := packet.Encode(d.samples[d.next])
	n, err := d.port.Write(pkt[:])
	if err == nil && n != packet.Size {
		err = io.ErrShortWrite
	}
	if err != nil {
		if serialport.IsClosed(err) {
			return true, &serialport.PortError{Op: "write", Err: err}
		}
		d.statsMu.Lock()
		d.stats.Errors++
		errs := d.stats.Errors
		d.statsMu.Unlock()
		d.logf("[transmit] write of sample %d failed (%d errors): %v", d.next, errs, err)
	} else {
		d.next++
		d.statsMu.Lock()
		d.stats.Index = d.next
		d.stats.Packets++
		d.stats.BytesSent = n
		d.stats.TotalBytes += int64(n)
		d.stats.Checksum = pkt[packet.PayloadSize]
		d.stats.OutQueue = serialport.OutputQueueLen(d.port)
		d.statsMu.Unlock()
	}

	d.setLED(true)
	d.clock.Sleep(d.cfg.Interval)
	d.setLED(false)
	d.clock.Sleep(d.cfg.Interval)
	return false, nil
}

func (d *Driver) setLED(on bool) {
	d.statsMu.Lock()
	d.stats.LED = on
	d.statsMu.Unlock()
	d.publish()
}

// Serve waits for the receiver and calls Run every time the link comes up,
// so a receiver may start and stop any number of times. The send position
// carries over between runs.
func (d *Driver) Serve(ctx context.Context) error {
	d.running.Add(1)
	defer d.running.Done()

	ticker := d.clock.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if d.Connected() {
			d.logf("[transmit] receiver ready, sending from sample %d of %d", d.Index(), len(d.samples))
			if err := d.Run(ctx); err != nil {
				return err
			}
			if d.quitting() {
				return nil
			}
			d.logf("[transmit] receiver gone after %d packets, waiting", d.Stats().Packets)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.quitCh:
			return nil
		case <-ticker.C():
		}
	}
}

// Quit asks Run and Serve to finish. It waits for an in-flight send cycle.
func (d *Driver) Quit() {
	d.mu.Lock()
	d.quit = true
	d.mu.Unlock()
	d.quitOnce.Do(func() { close(d.quitCh) })
}

func (d *Driver) quitting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit
}

// Close quits, waits for Run and Serve to return, then flushes and closes the
// port. New Run or Serve calls must not be started concurrently with Close.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.Quit()
		d.running.Wait()
		d.closeErr = errors.Join(serialport.Flush(d.port), d.port.Close())
		if d.closeErr != nil {
			d.closeErr = fmt.Errorf("failed to close transmitter port: %w", d.closeErr)
		}
		d.statsMu.Lock()
		d.eventsClosed = true
		close(d.events)
		d.statsMu.Unlock()
	})
	return d.closeErr
}

// Index returns the position of the next sample to send.
func (d *Driver) Index() int {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats.Index
}

func (d *Driver) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// Events delivers Stats snapshots on every indicator change. Snapshots are
// dropped when the reader falls behind. The channel is closed by Close.
func (d *Driver) Events() <-chan Stats { return d.events }

func (d *Driver) publish() {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if d.eventsClosed {
		return
	}
	select {
	case d.events <- d.stats:
	default:
	}
}
