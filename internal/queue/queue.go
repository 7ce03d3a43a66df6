// Package queue provides the bounded hand-off between the packet reader and
// the batch consumer. It stores fixed-size items in a ring, blocks the single
// producer when full and wakes the single consumer whenever a whole batch is
// buffered.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrClosed    = errors.New("queue closed")
	ErrUnderrun  = errors.New("queue underrun")
	ErrBatchSize = errors.New("queue capacity must be a positive multiple of the batch size")
	ErrItemSize  = errors.New("item has wrong size")
)

// UnderrunError reports a batch read with less than one batch buffered.
type UnderrunError struct {
	Have int // bytes buffered
	Want int // bytes in one batch
}

func (e *UnderrunError) Error() string {
	return fmt.Sprintf("queue underrun: %d bytes buffered, batch needs %d", e.Have, e.Want)
}

func (e *UnderrunError) Is(target error) bool { return target == ErrUnderrun }

// Queue is a FIFO of fixed-size items. Put and ReadBatch may run concurrently
// from one producer and one consumer.
type Queue struct {
	itemSize   int
	batchBytes int

	mu     sync.Mutex
	buf    []byte
	head   int // index of the oldest byte
	size   int // bytes buffered
	closed bool

	space chan struct{} // producer wake-up, capacity 1
	ready chan struct{} // consumer wake-up, capacity 1
	done  chan struct{}
}

// New creates a queue holding capacity items of itemSize bytes, drained in
// batches of batch items.
func New(capacity, batch, itemSize int) (*Queue, error) {
	if itemSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrItemSize, itemSize)
	}
	if batch <= 0 || capacity <= 0 || capacity%batch != 0 {
		return nil, fmt.Errorf("%w: capacity %d, batch %d", ErrBatchSize, capacity, batch)
	}
	return &Queue{
		itemSize:   itemSize,
		batchBytes: batch * itemSize,
		buf:        make([]byte, capacity*itemSize),
		space:      make(chan struct{}, 1),
		ready:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Put appends one item, waiting for room while the queue is full.
func (q *Queue) Put(ctx context.Context, item []byte) error {
	if len(item) != q.itemSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrItemSize, len(item), q.itemSize)
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.buf)-q.size >= len(item) {
			tail := (q.head + q.size) % len(q.buf)
			n := copy(q.buf[tail:], item)
			copy(q.buf, item[n:])
			before := q.size / q.batchBytes
			q.size += len(item)
			if q.size/q.batchBytes > before {
				signal(q.ready)
			}
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadBatch moves exactly one batch into dst and returns the number of bytes
// copied. Nothing is consumed when less than a batch is buffered.
func (q *Queue) ReadBatch(dst []byte) (int, error) {
	if len(dst) < q.batchBytes {
		return 0, fmt.Errorf("destination holds %d bytes, batch needs %d", len(dst), q.batchBytes)
	}
	q.mu.Lock()
	if q.size < q.batchBytes {
		have := q.size
		q.mu.Unlock()
		return 0, &UnderrunError{Have: have, Want: q.batchBytes}
	}
	n := copy(dst[:q.batchBytes], q.buf[q.head:])
	if n < q.batchBytes {
		copy(dst[n:q.batchBytes], q.buf)
	}
	q.head = (q.head + q.batchBytes) % len(q.buf)
	q.size -= q.batchBytes
	signal(q.space)
	if q.size >= q.batchBytes {
		signal(q.ready)
	}
	q.mu.Unlock()
	return q.batchBytes, nil
}

// Ready is signalled when an item completes a batch, and again by ReadBatch
// while complete batches remain. Signals are raised under the queue lock, so
// pending signals never outnumber buffered batches and a consumer that calls
// ReadBatch exactly once per signal never underruns.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size / q.itemSize
}

// Cap returns the capacity in items.
func (q *Queue) Cap() int { return len(q.buf) / q.itemSize }

// BatchSize returns the number of items per batch.
func (q *Queue) BatchSize() int { return q.batchBytes / q.itemSize }

// BatchBytes returns the number of bytes per batch.
func (q *Queue) BatchBytes() int { return q.batchBytes }

// Close wakes a blocked producer; later Puts fail with ErrClosed. Buffered
// items can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// signal must be called with mu held.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
