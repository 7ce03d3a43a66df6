package transmit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func seq(n int) []packet.Sample {
	out := make([]packet.Sample, n)
	for i := range out {
		v := float64(i)
		out[i] = packet.Sample{X: v, Y: v + 0.5, Z: -v}
	}
	return out
}

// hookClock runs fn after every Sleep, letting a test act between pacing
// steps without real delays.
type hookClock struct {
	*timeutil.MockClock
	fn func(sleeps int)
	n  int
}

func (c *hookClock) Sleep(d time.Duration) {
	c.MockClock.Sleep(d)
	c.n++
	if c.fn != nil {
		c.fn(c.n)
	}
}

func readPackets(t *testing.T, rx *serialport.MockPort, n int) []packet.Sample {
	t.Helper()
	buf := make([]byte, n*packet.Size)
	_, err := io.ReadFull(rx, buf)
	require.NoError(t, err)
	out := make([]packet.Sample, n)
	for i := range out {
		out[i], err = packet.Decode(buf[i*packet.Size : (i+1)*packet.Size])
		require.NoError(t, err)
	}
	return out
}

func TestRun_SendsAllThenExhausted(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))
	tx.SetOutputQueueLen(7)

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	d := NewDriver(tx, seq(3), Config{Clock: clock})

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)

	assert.Equal(t, seq(3), readPackets(t, rx, 3))

	st := d.Stats()
	assert.Equal(t, int64(3), st.Packets)
	assert.Equal(t, 3, st.Index)
	assert.Equal(t, packet.Size, st.BytesSent)
	assert.Equal(t, int64(3*packet.Size), st.TotalBytes)
	assert.Equal(t, 7, st.OutQueue)
	last := packet.Encode(seq(3)[2])
	assert.Equal(t, last[packet.PayloadSize], st.Checksum)
	assert.False(t, st.LED)
	assert.True(t, st.Connected)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 6, "two pacing delays per packet")
	for _, s := range sleeps {
		assert.Equal(t, DefaultInterval, s)
	}
}

// hardwarePort hides the mock's queue depth, as go.bug.st/serial ports do.
type hardwarePort struct{ serialport.Port }

func TestRun_OutQueueUnknownOnHardwarePort(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))
	tx.SetOutputQueueLen(7)

	d := NewDriver(hardwarePort{tx}, seq(2), Config{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	assert.ErrorIs(t, d.Run(context.Background()), ErrExhausted)
	assert.Equal(t, seq(2), readPackets(t, rx, 2))

	st := d.Stats()
	assert.Equal(t, int64(2), st.Packets)
	assert.Equal(t, -1, st.OutQueue)
}

func TestRun_NotConnectedSuspendsWithoutError(t *testing.T) {
	tx, _ := serialport.Pipe()
	d := NewDriver(tx, seq(3), Config{Clock: timeutil.NewMockClock(time.Time{})})

	require.NoError(t, d.Run(context.Background()))
	assert.Empty(t, tx.Written())
	assert.Equal(t, int64(0), d.Stats().Packets)
}

func TestRun_LinkDropResumesAtSameIndex(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))

	clock := &hookClock{MockClock: timeutil.NewMockClock(time.Time{})}
	clock.fn = func(n int) {
		if n == 4 { // after the second packet
			rx.SetDTR(false)
		}
	}
	d := NewDriver(tx, seq(5), Config{Clock: clock})

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 2, d.Index())
	assert.False(t, d.Stats().Connected)

	clock.fn = nil
	require.NoError(t, rx.SetDTR(true))
	assert.ErrorIs(t, d.Run(context.Background()), ErrExhausted)

	assert.Equal(t, seq(5), readPackets(t, rx, 5))
}

func TestRun_WriteErrorIsCountedAndRetried(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))
	tx.FailNextWrite(errors.New("framing"))

	d := NewDriver(tx, seq(2), Config{Clock: timeutil.NewMockClock(time.Time{})})
	assert.ErrorIs(t, d.Run(context.Background()), ErrExhausted)

	st := d.Stats()
	assert.Equal(t, int64(1), st.Errors)
	assert.Equal(t, int64(2), st.Packets)
	assert.Equal(t, seq(2), readPackets(t, rx, 2))
}

func TestRun_ClosedPortIsFatal(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))
	tx.FailNextWrite(serialport.ErrClosed)

	d := NewDriver(tx, seq(2), Config{Clock: timeutil.NewMockClock(time.Time{})})
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, serialport.IsClosed(err))
	var pe *serialport.PortError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "write", pe.Op)
	assert.Equal(t, int64(0), d.Stats().Errors)
}

func TestRun_ContextCancel(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))

	ctx, cancel := context.WithCancel(context.Background())
	clock := &hookClock{MockClock: timeutil.NewMockClock(time.Time{})}
	clock.fn = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	d := NewDriver(tx, seq(10), Config{Clock: clock})
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Equal(t, 1, d.Index())
}

func TestQuit_StopsRun(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))

	d := NewDriver(tx, seq(100000), Config{Interval: time.Millisecond})
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return d.Stats().Packets >= 2 }, 5*time.Second, time.Millisecond)
	d.Quit()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	sent := d.Stats().Packets
	assert.Less(t, sent, int64(100000))

	// Quit is sticky: a later Run sends nothing.
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, sent, d.Stats().Packets)
}

func TestServe_FollowsReceiverAcrossSessions(t *testing.T) {
	tx, rx := serialport.Pipe()
	d := NewDriver(tx, seq(20), Config{Interval: 100 * time.Microsecond, PollInterval: time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), d.Stats().Packets, "nothing sent before DSR")

	require.NoError(t, rx.SetDTR(true))
	require.Eventually(t, func() bool { return d.Stats().Packets >= 3 }, 5*time.Second, time.Millisecond)
	require.NoError(t, rx.SetDTR(false))
	require.Eventually(t, func() bool { return !d.Stats().Connected }, 5*time.Second, time.Millisecond)

	paused := d.Stats().Packets
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, paused, d.Stats().Packets, "sending must stop while DSR is low")

	require.NoError(t, rx.SetDTR(true))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not finish the sequence")
	}

	assert.Equal(t, seq(20), readPackets(t, rx, 20))
	require.NoError(t, d.Close())
	assert.True(t, tx.Closed())
}

func TestServe_QuitWhileWaiting(t *testing.T) {
	tx, _ := serialport.Pipe()
	d := NewDriver(tx, seq(1), Config{PollInterval: time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(context.Background()) }()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, d.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	tx, rx := serialport.Pipe()
	require.NoError(t, rx.SetDTR(true))
	d := NewDriver(tx, seq(1), Config{Clock: timeutil.NewMockClock(time.Time{})})
	assert.ErrorIs(t, d.Run(context.Background()), ErrExhausted)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, tx.Closed())
	assert.GreaterOrEqual(t, tx.Flushes(), 1)

	var got []Stats
	for s := range d.Events() {
		got = append(got, s)
	}
	require.NotEmpty(t, got)
	assert.True(t, got[0].Connected)
	assert.False(t, d.Connected(), "closed port reads as disconnected")
}
