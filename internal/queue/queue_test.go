package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(v byte, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestNew_RejectsBadSizes(t *testing.T) {
	_, err := New(10, 4, 24)
	assert.ErrorIs(t, err, ErrBatchSize)
	_, err = New(0, 4, 24)
	assert.ErrorIs(t, err, ErrBatchSize)
	_, err = New(16, 0, 24)
	assert.ErrorIs(t, err, ErrBatchSize)
	_, err = New(16, 16, 0)
	assert.ErrorIs(t, err, ErrItemSize)

	q, err := New(32, 16, 24)
	require.NoError(t, err)
	assert.Equal(t, 32, q.Cap())
	assert.Equal(t, 16, q.BatchSize())
	assert.Equal(t, 16*24, q.BatchBytes())
}

func TestQueue_FIFOAcrossBatches(t *testing.T) {
	ctx := context.Background()
	q, err := New(4, 2, 3)
	require.NoError(t, err)

	// A, B, C, D then drain, E, F wrap around the ring.
	for _, v := range []byte{'A', 'B', 'C'} {
		require.NoError(t, q.Put(ctx, item(v, 3)))
	}

	dst := make([]byte, q.BatchBytes())
	n, err := q.ReadBatch(dst)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(dst[:n]))

	for _, v := range []byte{'D', 'E', 'F'} {
		require.NoError(t, q.Put(ctx, item(v, 3)))
	}
	assert.Equal(t, 4, q.Len())

	var got []byte
	for i := 0; i < 2; i++ {
		n, err := q.ReadBatch(dst)
		require.NoError(t, err)
		got = append(got, dst[:n]...)
	}
	assert.Equal(t, "CCCDDDEEEFFF", string(got))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ReadyOnFullBatchOnly(t *testing.T) {
	ctx := context.Background()
	q, err := New(8, 4, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, []byte{byte(i)}))
	}
	select {
	case <-q.Ready():
		t.Fatal("ready signalled before a full batch")
	default:
	}

	require.NoError(t, q.Put(ctx, []byte{3}))
	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled after a full batch")
	}
}

func TestQueue_UnderrunConsumesNothing(t *testing.T) {
	ctx := context.Background()
	q, err := New(8, 4, 1)
	require.NoError(t, err)
	require.NoError(t, q.Put(ctx, []byte{1}))
	require.NoError(t, q.Put(ctx, []byte{2}))

	_, err = q.ReadBatch(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnderrun))
	var ue *UnderrunError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 2, ue.Have)
	assert.Equal(t, 4, ue.Want)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_ReadBatchShortDestination(t *testing.T) {
	q, err := New(4, 4, 2)
	require.NoError(t, err)
	_, err = q.ReadBatch(make([]byte, 3))
	assert.Error(t, err)
}

func TestQueue_PutWrongSize(t *testing.T) {
	q, err := New(4, 4, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Put(context.Background(), []byte{1}), ErrItemSize)
}

func TestQueue_ProducerBlocksUntilBatchDrained(t *testing.T) {
	const n = 16
	ctx := context.Background()
	q, err := New(n, n, 24)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(ctx, item(byte(i), 24)))
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, item(n, 24)) }()

	select {
	case err := <-done:
		t.Fatalf("Put of item %d returned early: %v", n+1, err)
	case <-time.After(50 * time.Millisecond):
	}

	dst := make([]byte, q.BatchBytes())
	_, err = q.ReadBatch(dst)
	require.NoError(t, err)
	assert.Equal(t, byte(0), dst[0])
	assert.Equal(t, byte(n-1), dst[len(dst)-1])

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after the consumer drained a batch")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_BlockedPutHonoursContextAndClose(t *testing.T) {
	q, err := New(1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, q.Put(context.Background(), []byte{1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Put(ctx, []byte{2}), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- q.Put(context.Background(), []byte{3}) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the producer")
	}

	// buffered data survives Close
	dst := make([]byte, 1)
	n, err := q.ReadBatch(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(1), dst[0])
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const (
		batch = 16
		total = batch * 50
	)
	q, err := New(batch*2, batch, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for i := 0; i < total; i++ {
			if err := q.Put(ctx, []byte{byte(i >> 8), byte(i)}); err != nil {
				return
			}
		}
	}()

	dst := make([]byte, q.BatchBytes())
	next := 0
	for next < total {
		select {
		case <-q.Ready():
		case <-ctx.Done():
			t.Fatalf("timed out after %d items", next)
		}
		for q.Len() >= batch {
			n, err := q.ReadBatch(dst)
			require.NoError(t, err)
			for off := 0; off < n; off += 2 {
				got := int(dst[off])<<8 | int(dst[off+1])
				require.Equal(t, next, got, "items out of order")
				next++
			}
		}
	}
}

func TestQueue_OneReadPerSignalNeverUnderruns(t *testing.T) {
	const batch, total = 4, 4000
	q, err := New(64, batch, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for i := 0; i < total; i++ {
			if err := q.Put(ctx, []byte{byte(i)}); err != nil {
				return
			}
		}
	}()

	dst := make([]byte, q.BatchBytes())
	for read := 0; read < total; read += batch {
		select {
		case <-q.Ready():
		case <-ctx.Done():
			t.Fatalf("timed out after %d items", read)
		}
		if _, err := q.ReadBatch(dst); err != nil {
			t.Fatalf("ReadBatch after %d items: %v", read, err)
		}
	}
}

// readPerSignal reads one batch per Ready signal until want batches have been
// read, then reports whether a signal is still pending.
func readPerSignal(t *testing.T, ctx context.Context, q *Queue, want int) (pending bool) {
	t.Helper()
	dst := make([]byte, q.BatchBytes())
	for read := 0; read < want; read++ {
		select {
		case <-q.Ready():
		case <-ctx.Done():
			t.Fatalf("timed out after %d batches", read)
		}
		if _, err := q.ReadBatch(dst); err != nil {
			t.Fatalf("ReadBatch %d of %d: %v", read+1, want, err)
		}
	}
	select {
	case <-q.Ready():
		return true
	default:
		return false
	}
}

func TestQueue_SignalsMatchBufferedBatches(t *testing.T) {
	const batch, batches = 3, 5
	q, err := New(batch*batches, batch, 1)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < batch*batches; i++ {
		require.NoError(t, q.Put(ctx, []byte{byte(i)}))
	}

	assert.False(t, readPerSignal(t, ctx, q, batches), "signal left with nothing buffered")
	assert.Zero(t, q.Len())
}

func TestQueue_NoSignalLeftAfterConcurrentDrain(t *testing.T) {
	for round := 0; round < 500; round++ {
		q, err := New(4, 1, 1)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 2; i++ {
				if err := q.Put(ctx, []byte{byte(i)}); err != nil {
					return
				}
			}
		}()

		pending := readPerSignal(t, ctx, q, 2)
		<-done
		cancel()
		if pending {
			t.Fatalf("round %d: signal pending after every batch was read", round)
		}
		if q.Len() != 0 {
			t.Fatalf("round %d: %d items left", round, q.Len())
		}
	}
}
