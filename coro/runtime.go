// Package coro implements the coroutine substrate the I/O scheduler core
// treats as an external collaborator: a ready queue, suspend/resume
// primitives, and per-coroutine I/O state slots.
//
// Go has no native stackful coroutines, so this substrate represents each
// coroutine as a goroutine parked on a channel and hands the "logical CPU"
// to exactly one of them at a time via a baton handshake, reproducing the
// single-threaded cooperative discipline this runtime enforces: the
// runtime's Yield only returns once the coroutine it ran has suspended or
// finished, so at most one coroutine's user code is ever executing.
//
// Grounded on the green-thread-style façade in
// internal/runtime/actor.go (ActorRef/Spawn) and the lock-free ready queue
// in internal/runtime/concurrency/lfqueue.go, adapted from actor mailbox
// delivery to baton-passing cooperative scheduling.
package coro

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/orizon-lang/iosched/internal/runtime/concurrency"
)

// ErrNotRunning describes the "no running coroutine" condition. Nothing in
// this module returns it: ioscheduler's Sleep and Wait panic instead when
// called outside any coroutine's body.
var ErrNotRunning = errors.New("coro: no running coroutine")

// Coroutine is a single cooperative task.
type Coroutine struct {
	rt    *Runtime
	in    chan any
	out   chan struct{}
	done  atomic.Bool
	IO    IOState // per-coroutine I/O book-keeping; owned by the driver goroutine while suspended
	pend  atomic.Value
}

func (co *Coroutine) setPending(v any) {
	co.pend.Store(boxed{v})
}

func (co *Coroutine) takePending() any {
	b, _ := co.pend.Load().(boxed)
	return b.v
}

// boxed lets a nil interface{} be stored in an atomic.Value, which otherwise
// rejects storing a nil and rejects inconsistent concrete types across
// Store calls.
type boxed struct{ v any }

// Config configures a Runtime.
type Config struct {
	// ReadyCapacity bounds the ready queue (rounded up to a power of two).
	// Defaults to 4096, generous for the number of concurrently-runnable
	// coroutines a single driver goroutine will ever plausibly queue up.
	ReadyCapacity uint64
}

// Runtime is the coroutine substrate: one ready queue, one notion of "the
// currently running coroutine", and bookkeeping for liveness/progress
// queries the driver loop needs.
type Runtime struct {
	ready      *concurrency.MPMCQueue[*Coroutine]
	readyCount atomic.Int64
	started    atomic.Int64
	finished   atomic.Int64
	running    *Coroutine // valid only while a Yield call is on the stack
	stopped    atomic.Bool
}

// NewRuntime creates a Runtime ready to Start coroutines on.
func NewRuntime(cfg Config) *Runtime {
	if cfg.ReadyCapacity == 0 {
		cfg.ReadyCapacity = 4096
	}
	return &Runtime{ready: concurrency.NewMPMCQueue[*Coroutine](cfg.ReadyCapacity)}
}

// Start launches fn(co, arg) as a new coroutine and marks it runnable. fn
// runs on its own goroutine but never concurrently with any other
// coroutine's body or the driver's own logic, by construction of Yield.
func (rt *Runtime) Start(fn func(co *Coroutine, arg any), arg any) (*Coroutine, error) {
	co := &Coroutine{rt: rt, in: make(chan any), out: make(chan struct{})}
	rt.started.Add(1)
	go func() {
		<-co.in
		fn(co, arg)
		co.done.Store(true)
		rt.finished.Add(1)
		co.out <- struct{}{}
	}()
	rt.enqueue(co, nil)
	return co, nil
}

func (rt *Runtime) enqueue(co *Coroutine, v any) {
	co.setPending(v)
	for !rt.ready.Enqueue(co) {
		// Ready queue momentarily full: yield the OS thread to let the
		// driver drain it. This only matters under pathological fan-out;
		// the common case enqueues in one CAS.
		runtime.Gosched()
	}
	rt.readyCount.Add(1)
}

// Running returns the coroutine currently executing, or nil if called from
// outside any coroutine (e.g. from the embedder's own goroutine).
func (rt *Runtime) Running() *Coroutine {
	return rt.running
}

// Done reports whether co's body has returned.
func (co *Coroutine) Done() bool {
	return co.done.Load()
}

// Suspend parks the calling coroutine until Resume is called for it, and
// returns whatever value Resume delivered. It must be called from within a
// coroutine started by this Runtime.
func (co *Coroutine) Suspend() any {
	co.out <- struct{}{}
	return <-co.in
}

// Resume marks co runnable again with v as the value Suspend will return.
// This only enqueues co on the ready list; it does not
// switch to it immediately. The driver's next Yield call will run it.
func (rt *Runtime) Resume(co *Coroutine, v any) {
	rt.enqueue(co, v)
}

// Yield runs the next ready coroutine to completion of its current turn
// (i.e. until it suspends again or finishes) and returns true, or returns
// false if the ready queue was empty.
func (rt *Runtime) Yield() bool {
	var co *Coroutine
	if !rt.ready.Dequeue(&co) {
		return false
	}
	rt.readyCount.Add(-1)
	v := co.takePending()
	// Yield nests: the driver coroutine's own body calls Yield again for
	// every other coroutine it services, all on the same goroutine, so a
	// call already has rt.running set to its caller when it starts. Save
	// and restore that caller across this call instead of clobbering it
	// to nil, or the outer coroutine loses its "running" identity the
	// moment the first nested Yield call returns.
	prev := rt.running
	rt.running = co
	co.in <- v
	<-co.out
	rt.running = prev
	return true
}

// SuspendCount returns the number of coroutines that are neither runnable
// nor finished: started, but parked in Suspend waiting on a future Resume.
func (rt *Runtime) SuspendCount() int {
	live := rt.started.Load() - rt.finished.Load()
	n := live - rt.readyCount.Load()
	if rt.running != nil {
		n--
	}
	if n < 0 {
		n = 0
	}
	return int(n)
}

// Stop marks the runtime stopped. The driver loop observes this via Stopped
// at the top of its next iteration, whether or not waiters are still pending.
func (rt *Runtime) Stop() {
	rt.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (rt *Runtime) Stopped() bool {
	return rt.stopped.Load()
}

// Run drives the runtime until its ready queue is exhausted. In practice a
// single external call to Yield is enough to hand control to the Driver
// Loop coroutine (ioscheduler.Init starts it on this Runtime): once
// dequeued, its own body repeatedly calls Yield to service every other
// coroutine as a nested call on the same goroutine, for as long as the
// program runs. Run exists as the one place an embedder needs to block,
// regardless of whether the driver coroutine happens to be first in the
// ready queue at the time Run is called.
func (rt *Runtime) Run() {
	for rt.Yield() {
	}
}
