package timerwheel

import (
	"testing"
	"time"

	"github.com/orizon-lang/iosched/clock"
)

func newTestWheel(t *testing.T, tick time.Duration) (*Wheel, *clock.Cache) {
	t.Helper()
	clk := clock.NewCache()
	w := New(Config{Tick: tick, Buckets: 8, Clock: clk})
	return w, clk
}

func TestWheelEmptyDelayIsMax(t *testing.T) {
	w, _ := newTestWheel(t, time.Millisecond)
	if d := w.Delay(); d != MaxDelay {
		t.Fatalf("Delay on empty wheel = %v, want MaxDelay", d)
	}
	if !w.Empty() {
		t.Fatalf("Empty() = false on a wheel with no posted tasks")
	}
}

func TestWheelFiresAfterAdvance(t *testing.T) {
	w, clk := newTestWheel(t, time.Millisecond)

	fired := false
	var gotKilled bool
	_, err := w.Post(3*time.Millisecond, func(killed bool, priv any) {
		fired = true
		gotKilled = killed
	}, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if w.Empty() {
		t.Fatalf("Empty() = true immediately after Post")
	}

	// Advance the cached clock in whole-tick steps and Spak each time,
	// mirroring how the Driver Loop calls Spak once per tick.
	for i := 0; i < 10 && !fired; i++ {
		time.Sleep(time.Millisecond)
		clk.Spak()
		if err := w.Spak(); err != nil {
			t.Fatalf("Spak: %v", err)
		}
	}

	if !fired {
		t.Fatalf("task never fired within 10 Spak rounds of a 3-tick delay")
	}
	if gotKilled {
		t.Fatalf("task fired with killed=true, want false for a normal expiry")
	}
	if !w.Empty() {
		t.Fatalf("Empty() = false after the only pending task fired")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	w, _ := newTestWheel(t, time.Millisecond)
	task, err := w.Post(5*time.Millisecond, func(bool, any) {}, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	w.Cancel(task)
	if !w.Empty() {
		t.Fatalf("Empty() = false after cancelling the only pending task")
	}

	// Cancelling again, and cancelling nil, must be safe no-ops.
	w.Cancel(task)
	w.Cancel(nil)
}

func TestKillFiresAllPendingAsKilled(t *testing.T) {
	w, _ := newTestWheel(t, time.Millisecond)

	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		if _, err := w.Post(time.Duration(i+1)*time.Millisecond, func(killed bool, priv any) {
			results <- killed
		}, nil); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	w.Kill()

	if !w.Empty() {
		t.Fatalf("Empty() = false after Kill")
	}
	for i := 0; i < 3; i++ {
		select {
		case killed := <-results:
			if !killed {
				t.Fatalf("task fired with killed=false after wheel Kill")
			}
		default:
			t.Fatalf("task %d did not fire synchronously during Kill", i)
		}
	}

	// Kill is idempotent: a second call must not panic or refire anything.
	w.Kill()
}

func TestPostAfterExitFails(t *testing.T) {
	w, _ := newTestWheel(t, time.Millisecond)
	w.Exit()
	if _, err := w.Post(time.Millisecond, func(bool, any) {}, nil); err != ErrClosed {
		t.Fatalf("Post after Exit: err = %v, want ErrClosed", err)
	}
}

func TestDelayReflectsNearestPendingTask(t *testing.T) {
	w, _ := newTestWheel(t, time.Millisecond)
	if _, err := w.Post(5*time.Millisecond, func(bool, any) {}, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := w.Post(2*time.Millisecond, func(bool, any) {}, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}

	d := w.Delay()
	if d != 2*time.Millisecond {
		t.Fatalf("Delay() = %v, want 2ms (the nearer of the two posted tasks)", d)
	}
}
