package ioscheduler

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/orizon-lang/iosched/coro"
	"github.com/orizon-lang/iosched/poller"
)

// loopbackPair gives tests two connected sockets to Wait on, the same way
// poller's own tests do.
func loopbackPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-accepted
	return client, server
}

func newTestScheduler(t *testing.T) (*coro.Runtime, *Scheduler) {
	t.Helper()
	rt := coro.NewRuntime(coro.Config{})
	sch, err := Init(rt, Config{Profile: Small})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(sch.Exit)
	return rt, sch
}

// runUntil drives rt.Run on a goroutine and waits for done to close, or
// fails the test after timeout.
func runUntil(t *testing.T, rt *coro.Runtime, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	go rt.Run()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("scheduler did not finish within %v", timeout)
	}
}

// S1: a single coroutine calls Sleep(50ms) on the high-precision wheel.
func TestSleepHighPrecision(t *testing.T) {
	rt, sch := newTestScheduler(t)
	done := make(chan struct{})
	var elapsed time.Duration

	rt.Start(func(co *coro.Coroutine, arg any) {
		start := time.Now()
		sch.Sleep(50 * time.Millisecond)
		elapsed = time.Since(start)
		rt.Stop()
		close(done)
	}, nil)

	runUntil(t, rt, done, 2*time.Second)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("Sleep returned after %v, want >= 50ms", elapsed)
	}
}

// S2: Sleep(1s) lands on the low-precision wheel per the wheel-selection
// rule (duration % time.Second == 0).
func TestWheelSelection(t *testing.T) {
	rt, sch := newTestScheduler(t)
	wheel, kind := sch.wheelFor(time.Second)
	if kind != coro.WheelLow || wheel != sch.ltimer {
		t.Fatalf("wheelFor(1s) = %v, want WheelLow/ltimer", kind)
	}
	wheel, kind = sch.wheelFor(50 * time.Millisecond)
	if kind != coro.WheelHigh || wheel != sch.timer {
		t.Fatalf("wheelFor(50ms) = %v, want WheelHigh/timer", kind)
	}
	rt.Stop()
}

// S3: Wait returns the ready events when the peer writes before the
// deadline.
func TestWaitEventWins(t *testing.T) {
	rt, sch := newTestScheduler(t)
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var gotEvents poller.EventMask
	var gotErr error

	rt.Start(func(co *coro.Coroutine, arg any) {
		gotEvents, gotErr = sch.Wait(server, poller.Readable, time.Second)
		rt.Stop()
		close(done)
	}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Write([]byte("x"))
	}()

	runUntil(t, rt, done, 2*time.Second)

	if gotErr != nil {
		t.Fatalf("Wait error: %v", gotErr)
	}
	if gotEvents&poller.Readable == 0 {
		t.Fatalf("Wait events = %v, want Readable set", gotEvents)
	}
}

// S4: Wait returns 0 when the deadline elapses with nothing ready.
func TestWaitTimerWins(t *testing.T) {
	rt, sch := newTestScheduler(t)
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var gotEvents poller.EventMask
	var gotErr error

	rt.Start(func(co *coro.Coroutine, arg any) {
		gotEvents, gotErr = sch.Wait(server, poller.Readable, 20*time.Millisecond)
		rt.Stop()
		close(done)
	}, nil)

	runUntil(t, rt, done, 2*time.Second)

	if gotErr != nil {
		t.Fatalf("Wait error: %v", gotErr)
	}
	if gotEvents != 0 {
		t.Fatalf("Wait events = %v, want 0 on timeout", gotEvents)
	}
}

// S5: Wait on an already-closed socket fails the Insert and returns an
// error without suspending the coroutine.
func TestWaitInsertFails(t *testing.T) {
	rt, sch := newTestScheduler(t)
	client, server := loopbackPair(t)
	defer client.Close()
	server.Close() // close before Insert so the backend rejects it

	done := make(chan struct{})
	var gotErr error

	rt.Start(func(co *coro.Coroutine, arg any) {
		_, gotErr = sch.Wait(server, poller.Readable, -1)
		rt.Stop()
		close(done)
	}, nil)

	runUntil(t, rt, done, 2*time.Second)

	if gotErr == nil {
		t.Fatalf("Wait on a closed socket returned nil error")
	}
}

// S6: killing the scheduler resumes every pending waiter.
func TestKillResumesAllWaiters(t *testing.T) {
	rt, sch := newTestScheduler(t)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]poller.EventMask, n)

	for i := 0; i < n; i++ {
		i := i
		client, server := loopbackPair(t)
		defer client.Close()
		defer server.Close()
		rt.Start(func(co *coro.Coroutine, arg any) {
			defer wg.Done()
			ev, _ := sch.Wait(server, poller.Readable, 10*time.Second)
			results[i] = ev
		}, nil)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		rt.Stop()
		close(done)
	}()

	go rt.Run()

	// Let the driver loop get all ten waiters registered and blocked before
	// killing.
	time.Sleep(50 * time.Millisecond)
	sch.Kill()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("not all waiters resumed within 3s of Kill")
	}

	for i, ev := range results {
		if ev != 0 {
			t.Fatalf("waiter %d resumed with events=%v, want 0 (killed)", i, ev)
		}
	}
}

// S7: with five runnable coroutines and a real waiter pending, all five
// runnables complete before the driver ever blocks in the poller.
func TestRunnablesDrainBeforeBlocking(t *testing.T) {
	rt, sch := newTestScheduler(t)
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	var order []int
	var mu sync.Mutex

	done := make(chan struct{})
	rt.Start(func(co *coro.Coroutine, arg any) {
		sch.Wait(server, poller.Readable, 200*time.Millisecond)
		mu.Lock()
		order = append(order, -1)
		mu.Unlock()
		rt.Stop()
		close(done)
	}, nil)

	for i := 0; i < 5; i++ {
		i := i
		rt.Start(func(co *coro.Coroutine, arg any) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, nil)
	}

	runUntil(t, rt, done, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 6 {
		t.Fatalf("order = %v, want 6 entries", order)
	}
	for i := 0; i < 5; i++ {
		if order[i] != i {
			t.Fatalf("runnable order = %v, want 0..4 before the waiter", order)
		}
	}
	if order[5] != -1 {
		t.Fatalf("waiter entry not last: order = %v", order)
	}
}

// I2: after every resume, the coroutine's IOState is back to Idle.
func TestIOStateResetsAfterResume(t *testing.T) {
	rt, sch := newTestScheduler(t)
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var stateAfter coro.Kind

	rt.Start(func(co *coro.Coroutine, arg any) {
		sch.Wait(server, poller.Readable, time.Second)
		stateAfter = co.IO.Kind
		rt.Stop()
		close(done)
	}, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		client.Write([]byte("x"))
	}()

	runUntil(t, rt, done, 2*time.Second)

	if stateAfter != coro.Idle {
		t.Fatalf("IOState.Kind after resume = %v, want Idle", stateAfter)
	}
}
