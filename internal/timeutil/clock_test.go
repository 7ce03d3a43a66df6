package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	if d := clock.Since(time.Now().Add(-time.Second)); d < time.Second {
		t.Errorf("Since() = %v, want >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_SleepRecordsAndAdvances(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(10 * time.Millisecond)
	clock.Sleep(10 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("len(Sleeps()) = %d, want 2", len(sleeps))
	}
	if got := clock.Since(start); got != 20*time.Millisecond {
		t.Errorf("Since(start) = %v, want 20ms", got)
	}

	sleeps[0] = 0
	if clock.Sleeps()[0] != 10*time.Millisecond {
		t.Error("Sleeps() must return a copy")
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Time{})
	want := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(want)
	if !clock.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", clock.Now(), want)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Time{})
	clock.NewTicker(time.Hour)

	tickers := clock.Tickers()
	if len(tickers) != 1 {
		t.Fatalf("len(Tickers()) = %d, want 1", len(tickers))
	}
	now := time.Unix(42, 0)
	tickers[0].Trigger(now)
	tickers[0].Trigger(now) // second tick is dropped, channel holds one

	if got := <-tickers[0].C(); !got.Equal(now) {
		t.Errorf("tick = %v, want %v", got, now)
	}
	select {
	case <-tickers[0].C():
		t.Error("Trigger must not queue more than one tick")
	default:
	}
	if tickers[0].Stopped() {
		t.Error("Stopped() = true before Stop")
	}
}
