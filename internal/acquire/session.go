// Package acquire is the receiving half of the magnetometer link. A Session
// owns a port in the receiver role and runs three goroutines while it is
// Running: a reader that validates packets and queues their payloads, a
// consumer that moves whole batches from the queue into the buffer store, and
// a line monitor that tracks the transmitter's DSR.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/magmon/internal/datalog"
	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/queue"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/spectrum"
	"github.com/banshee-data/magmon/internal/store"
	"github.com/banshee-data/magmon/internal/timeutil"
)

const (
	DefaultBatchSize     = 16
	DefaultQueueBatches  = 1000
	DefaultSampleRate    = 25.0
	DefaultBreakDuration = 25 * time.Millisecond
	DefaultLinePoll      = 100 * time.Millisecond
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultEventBuffer   = 256
)

var (
	ErrState = errors.New("invalid session state")
	// ErrNotStopped is returned by Analyze before the session has stopped.
	ErrNotStopped = errors.New("acquisition has not stopped")
	// ErrQueueUnderrun is the fault raised when the consumer is woken for a
	// batch that is not there.
	ErrQueueUnderrun = queue.ErrUnderrun
)

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// Config holds the session parameters. Zero fields take the defaults.
type Config struct {
	ID            string        `json:"id"`
	BatchSize     int           `json:"batch_size"`
	QueueCapacity int           `json:"queue_capacity"` // samples, a multiple of BatchSize
	SampleRate    float64       `json:"sample_rate"`    // Hz
	MaxSamples    int           `json:"max_samples"`    // 0 = unbounded
	BreakDuration time.Duration `json:"break_duration"`
	LinePoll      time.Duration `json:"line_poll"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	EventBuffer   int           `json:"event_buffer"`
}

// DefaultConfig returns the reference configuration: batches of 16, room
// for 1000 batches, 25 Hz.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		QueueCapacity: DefaultBatchSize * DefaultQueueBatches,
		SampleRate:    DefaultSampleRate,
		BreakDuration: DefaultBreakDuration,
		LinePoll:      DefaultLinePoll,
		ReadTimeout:   DefaultReadTimeout,
		EventBuffer:   DefaultEventBuffer,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = c.BatchSize * DefaultQueueBatches
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BreakDuration == 0 {
		c.BreakDuration = d.BreakDuration
	}
	if c.LinePoll == 0 {
		c.LinePoll = d.LinePoll
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// Validate checks a configuration after defaults have been applied.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.QueueCapacity <= 0 || c.QueueCapacity%c.BatchSize != 0 {
		return fmt.Errorf("queue capacity %d must be a positive multiple of batch size %d", c.QueueCapacity, c.BatchSize)
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRate)
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("max samples must not be negative, got %d", c.MaxSamples)
	}
	if c.BreakDuration < 0 || c.LinePoll <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}

// Option customises a Session.
type Option func(*Session)

// WithFeed sets the visualization feed that receives each stored batch.
func WithFeed(f Feed) Option { return func(s *Session) { s.feed = f } }

// WithDataLog writes every validated sample to w. The session closes w.
func WithDataLog(w *datalog.Writer) Option { return func(s *Session) { s.dataLog = w } }

func WithClock(c timeutil.Clock) Option { return func(s *Session) { s.clock = c } }

func WithLogger(f func(format string, v ...interface{})) Option {
	return func(s *Session) { s.logf = f }
}

// Session is one acquisition run, from port configuration to teardown.
type Session struct {
	cfg     Config
	port    serialport.Port
	queue   *queue.Queue
	store   *store.Store
	feed    Feed
	dataLog *datalog.Writer
	clock   timeutil.Clock
	logf    func(format string, v ...interface{})

	// workMu is held for one read-validate-queue unit of work and by Close
	// while resources are released.
	workMu sync.Mutex

	mu     sync.Mutex
	state  State
	fault  error
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats

	evMu     sync.Mutex
	events   chan Event
	evClosed bool

	closeOnce sync.Once
	closeErr  error
}

// NewSession configures a session on an open port. The session owns the port
// from here on and closes it in Close.
func NewSession(port serialport.Port, cfg Config, opts ...Option) (*Session, error) {
	if port == nil {
		return nil, errors.New("nil port")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid acquisition config: %w", err)
	}
	q, err := queue.New(cfg.QueueCapacity, cfg.BatchSize, packet.PayloadSize)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		port:  port,
		queue: q,
		store: store.New(cfg.MaxSamples),
		feed:  nopFeed{},
		clock: timeutil.RealClock{},
		state: Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = nopFeed{}
	}
	s.logf = monitoring.Func(s.logf)
	s.events = make(chan Event, cfg.EventBuffer)
	s.stats = Stats{ID: cfg.ID}
	s.state = Configured
	s.stats.State = Configured
	return s, nil
}

func (s *Session) ID() string     { return s.cfg.ID }
func (s *Session) Config() Config { return s.cfg }

// Store gives read access to the captured samples.
func (s *Session) Store() *store.Store { return s.store }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start asserts DTR, sends the start break and launches the workers. The
// session stops on its own when ctx ends or a fault occurs.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Configured {
		return &StateError{Op: "start", State: s.state}
	}

	if err := s.port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		return &serialport.PortError{Op: "set read timeout", Err: err}
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return &serialport.PortError{Op: "flush", Err: err}
	}
	if err := s.port.SetDTR(true); err != nil {
		return &serialport.PortError{Op: "set DTR", Err: err}
	}
	if s.cfg.BreakDuration > 0 {
		if err := s.port.Break(s.cfg.BreakDuration); err != nil {
			_ = s.port.SetDTR(false)
			return &serialport.PortError{Op: "break", Err: err}
		}
	}

	now := s.clock.Now()
	if s.dataLog != nil {
		if err := s.dataLog.Begin(now, s.cfg.SampleRate); err != nil {
			_ = s.port.SetDTR(false)
			return err
		}
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state = Running
	s.statsMu.Lock()
	s.stats.State = Running
	s.stats.StartedAt = now
	s.statsMu.Unlock()

	readerDone := make(chan struct{})
	s.wg.Add(3)
	go s.readLoop(s.runCtx, readerDone)
	go s.consumeLoop(readerDone)
	go s.monitorLine(s.runCtx)
	go s.supervise()

	s.logf("[acquire] session %s started: batch %d, queue %d, %.4g Hz", s.cfg.ID, s.cfg.BatchSize, s.cfg.QueueCapacity, s.cfg.SampleRate)
	s.post(Event{Kind: EventState, Time: now, State: Running})
	return nil
}

// supervise joins the workers, then moves the session to Stopped and
// reports the outcome.
func (s *Session) supervise() {
	s.wg.Wait()

	// DTR low tells the transmitter to stop sending.
	if err := s.port.SetDTR(false); err != nil && !serialport.IsClosed(err) {
		s.logf("[acquire] failed to clear DTR: %v", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.state = Stopped
	fault := s.fault
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.State = Stopped
	s.stats.StoppedAt = now
	s.stats.Queued = s.queue.Len()
	if fault != nil {
		s.stats.Fault = fault.Error()
	}
	st := s.stats
	s.statsMu.Unlock()

	if fault != nil {
		s.logf("[acquire] session %s aborted after %d samples: %v", s.cfg.ID, st.Received, fault)
		s.post(Event{Kind: EventFault, Time: now, Err: fault})
	} else {
		s.logf("[acquire] session %s stopped: %d received, %d stored", s.cfg.ID, st.Received, s.store.Count())
	}
	s.post(Event{Kind: EventState, Time: now, State: Stopped})
	close(s.done)
}

// abort records the first fault and cancels the workers.
func (s *Session) abort(err error) {
	s.mu.Lock()
	if s.fault == nil {
		s.fault = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop clears DTR and joins the workers. Stopping a stopped or closed
// session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Stopped, Closed:
		s.mu.Unlock()
		return nil
	case Running:
	default:
		st := s.state
		s.mu.Unlock()
		return &StateError{Op: "stop", State: st}
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	var err error
	if dtrErr := s.port.SetDTR(false); dtrErr != nil && !serialport.IsClosed(dtrErr) {
		err = &serialport.PortError{Op: "clear DTR", Err: dtrErr}
	}
	cancel()
	<-done
	return err
}

// Wait blocks until the workers have finished and returns the fault that
// ended the session, or nil after a clean stop.
func (s *Session) Wait() error {
	s.mu.Lock()
	done, st := s.done, s.state
	s.mu.Unlock()
	if done == nil {
		return &StateError{Op: "wait for", State: st}
	}
	<-done
	return s.Err()
}

// Done is closed when a started session has stopped. It is nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the fault that aborted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Close stops the session and releases the queue, the port, the data log
// and finally the sample buffers. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.Stop(); err != nil && !errors.Is(err, ErrState) {
			errs = append(errs, err)
		}

		s.workMu.Lock()
		s.queue.Close()
		if err := serialport.Flush(s.port); err != nil && !serialport.IsClosed(err) {
			errs = append(errs, &serialport.PortError{Op: "flush", Err: err})
		}
		if err := s.port.Close(); err != nil {
			errs = append(errs, &serialport.PortError{Op: "close", Err: err})
		}
		if s.dataLog != nil {
			if err := s.dataLog.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.workMu.Unlock()

		s.statsMu.Lock()
		s.stats.State = Closed
		s.statsMu.Unlock()
		s.post(Event{Kind: EventState, Time: s.clock.Now(), State: Closed})

		s.evMu.Lock()
		s.evClosed = true
		close(s.events)
		s.evMu.Unlock()

		s.store.Release()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Analyze computes the spectrum of everything captured. It requires a
// stopped session; an empty capture gives an empty result.
func (s *Session) Analyze() (spectrum.Result, error) {
	if st := s.State(); st != Stopped {
		return spectrum.Result{}, fmt.Errorf("%w: session is %s", ErrNotStopped, st)
	}
	x, y, z := s.store.Snapshot()
	return spectrum.Analyze(x, y, z, s.cfg.SampleRate)
}

func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()
	if st.State == Running {
		st.Queued = s.queue.Len()
	}
	return st
}

// Events delivers UI notifications. Events are dropped while the buffer is
// full. The channel is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) post(ev Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
