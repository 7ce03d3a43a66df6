package acquire

import (
	"context"
	"fmt"

	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/serialport"
)

func (s *Session) readLoop(ctx context.Context, done chan<- struct{}) {
	defer s.wg.Done()
	defer close(done)

	buf := make([]byte, packet.Size)
	for {
		if err := s.readPacket(ctx, buf); err != nil {
			if ctx.Err() == nil {
				s.abort(&serialport.PortError{Op: "read", Err: err})
			}
			return
		}
		if err := s.HandlePacket(buf); err != nil {
			return
		}
	}
}

// readPacket fills buf with exactly one packet. A read that times out with
// no data gives the loop a chance to notice cancellation; a partial packet
// is discarded on cancel.
func (s *Session) readPacket(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.port.Read(buf[got:])
		got += n
		if err != nil {
			return err
		}
	}
	return nil
}

// HandlePacket validates one 25-byte packet and queues its payload. A
// checksum failure aborts the session and is returned. The call blocks while
// the queue is full. It fails with ErrState unless the session is running.
func (s *Session) HandlePacket(pkt []byte) error {
	s.workMu.Lock()
	defer s.workMu.Unlock()

	s.mu.Lock()
	st, ctx := s.state, s.runCtx
	s.mu.Unlock()
	if st != Running {
		return &StateError{Op: "handle packet for", State: st}
	}

	smp, err := packet.Decode(pkt)
	if err != nil {
		s.abort(err)
		return err
	}
	if err := s.queue.Put(ctx, packet.Payload(pkt)); err != nil {
		return err
	}

	mag := smp.Magnitude()
	s.statsMu.Lock()
	n := s.stats.Received
	s.stats.Received++
	s.stats.Last = smp
	s.stats.Magnitude = mag
	if n == 0 || mag < s.stats.Min {
		s.stats.Min = mag
	}
	if n == 0 || mag > s.stats.Max {
		s.stats.Max = mag
	}
	s.statsMu.Unlock()

	if s.dataLog != nil {
		if err := s.dataLog.Write(n, smp); err != nil {
			s.statsMu.Lock()
			s.stats.LogErrors++
			first := s.stats.LogErrors == 1
			s.statsMu.Unlock()
			if first {
				s.logf("[acquire] data log write failed: %v", err)
			}
		}
	}

	monitoring.Debugf("[acquire] sample %d %v |B|=%.3f", n, smp, mag)
	s.post(Event{Kind: EventSample, Time: s.clock.Now(), Index: n, Sample: smp})
	return nil
}

// consumeLoop moves one batch per ready signal into the store. Once the
// reader has exited it drains the remaining complete batches and returns.
func (s *Session) consumeLoop(readerDone <-chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, s.queue.BatchBytes())
	for {
		select {
		case <-s.queue.Ready():
			if err := s.consumeBatch(buf); err != nil {
				s.abort(err)
				return
			}
		case <-readerDone:
			s.drain(buf)
			return
		}
	}
}

// drain stores the complete batches still queued when the reader stops,
// including after a reader-side fault. A trailing partial batch is dropped.
func (s *Session) drain(buf []byte) {
	for s.queue.Len() >= s.queue.BatchSize() {
		if err := s.consumeBatch(buf); err != nil {
			s.abort(err)
			return
		}
	}
}

func (s *Session) consumeBatch(buf []byte) error {
	n, err := s.queue.ReadBatch(buf)
	if err != nil {
		return err
	}
	batch := make([]packet.Sample, n/packet.PayloadSize)
	for i := range batch {
		if batch[i], err = packet.DecodePayload(buf[i*packet.PayloadSize : (i+1)*packet.PayloadSize]); err != nil {
			return err
		}
	}

	offset := s.store.Count()
	if err := s.store.AppendBatch(batch); err != nil {
		return err
	}
	x, y, z, err := s.store.Slice(offset, offset+len(batch))
	if err != nil {
		return fmt.Errorf("reading back batch at %d: %w", offset, err)
	}
	s.feed.OnBatch(offset, x, y, z)

	s.statsMu.Lock()
	s.stats.Visualized += len(batch)
	s.statsMu.Unlock()

	monitoring.Debugf("[acquire] batch at %d: %d samples", offset, len(batch))
	s.post(Event{Kind: EventBatch, Time: s.clock.Now(), Offset: offset, Count: len(batch)})
	return nil
}

// monitorLine polls DSR and reports every change.
func (s *Session) monitorLine(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.LinePoll)
	defer ticker.Stop()

	s.checkLine()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.checkLine()
		}
	}
}

func (s *Session) checkLine() {
	on := serialport.DSR(s.port)
	s.statsMu.Lock()
	changed := s.stats.Connected != on
	s.stats.Connected = on
	s.statsMu.Unlock()
	if !changed {
		return
	}
	if on {
		s.logf("[acquire] transmitter connected")
	} else {
		s.logf("[acquire] transmitter disconnected")
	}
	s.post(Event{Kind: EventConnection, Time: s.clock.Now(), Connected: on})
}
