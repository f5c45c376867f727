// Package ioscheduler implements the I/O-driven coroutine scheduler core:
// the subsystem that multiplexes many cooperative coroutines onto a single
// driver goroutine by coupling a readiness poller (package poller) with two
// timer wheels (package timerwheel). Coroutines suspend on I/O readiness,
// on a sleep interval, or on a bounded wait-with-timeout; this package
// resumes exactly one waiter per event (readiness or deadline, whichever
// comes first) and unregisters the other side cleanly.
//
// The three correctness properties this core must hold under
// concurrent-looking but single-goroutine execution are: at most one
// resumption per suspension event (O1), no dangling registration in the
// poller or timers after a waiter resumes (I2), and progress — the driver
// must never block while any coroutine is runnable.
package ioscheduler

import (
	"sync/atomic"
	"time"

	"github.com/orizon-lang/iosched/clock"
	"github.com/orizon-lang/iosched/coro"
	"github.com/orizon-lang/iosched/internal/runtime/concurrency"
	"github.com/orizon-lang/iosched/poller"
	"github.com/orizon-lang/iosched/timerwheel"
)

// LTimerGrow and TimerGrow are the default bucket-count "grow hints" for the
// low- and high-precision wheels, matching the original core's profile
// guidance (LTimerGrow = 4096 full-size, TimerGrow = LTimerGrow/16).
const (
	LTimerGrow = 4096
	TimerGrow  = LTimerGrow / 16

	// LTimerGrowSmall is the bucket count under the Small profile.
	LTimerGrowSmall = 64
	// TimerGrowSmall is the high-precision wheel's bucket count under the
	// Small profile, kept proportional to LTimerGrowSmall.
	TimerGrowSmall = LTimerGrowSmall / 16
)

// Profile selects the resource footprint of the two timer wheels.
type Profile int

const (
	// Default sizes both wheels for a long-running, high-fanout server.
	Default Profile = iota
	// Small sizes both wheels for a constrained embedding (tests, CLIs).
	Small
)

// Config configures Init, following the *Config struct-literal pattern used
// for configuring long-lived subsystems elsewhere in this module, rather
// than a flags/env layer, since this is library code with no CLI surface
// of its own.
type Config struct {
	// Profile selects the wheel bucket counts. Zero value is Default.
	Profile Profile
	// Logger receives scheduler lifecycle and fault events. Defaults to
	// NoopLogger.
	Logger Logger
}

// Scheduler is the I/O scheduler core: it owns the poller and both timer
// wheels, and holds a non-owning back-reference to the coroutine runtime
// whose lifetime dominates its own.
type Scheduler struct {
	rt     *coro.Runtime
	poll   poller.Poller
	timer  *timerwheel.Wheel
	ltimer *timerwheel.Wheel
	clk    *clock.Cache
	log    Logger

	driver *coro.Coroutine

	// killedFlag is a 0/1 word flipped with internal/runtime/concurrency's
	// CAS helper rather than sync/atomic.Bool directly, so Kill's
	// idempotency is expressed with the same primitive internal/runtime
	// uses elsewhere.
	killedFlag uint64

	errVal atomic.Pointer[errBox]
}

type errBox struct{ err error }

// Init creates a Scheduler bound to rt: both timer wheels, a platform
// poller, and the Driver Loop launched as a coroutine on rt. Any sub-step
// failure tears down everything already created and returns an error.
func Init(rt *coro.Runtime, cfg Config) (*Scheduler, error) {
	invariant(rt != nil, "ioscheduler: Init called with nil runtime")
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger{}
	}

	ltimerGrow, timerGrow := LTimerGrow, TimerGrow
	if cfg.Profile == Small {
		ltimerGrow, timerGrow = LTimerGrowSmall, TimerGrowSmall
	}

	clk := clock.NewCache()
	s := &Scheduler{rt: rt, clk: clk, log: cfg.Logger}

	s.timer = timerwheel.New(timerwheel.Config{
		Tick:    time.Millisecond,
		Buckets: timerGrow,
		Clock:   clk,
	})
	s.ltimer = timerwheel.New(timerwheel.Config{
		Tick:    time.Second,
		Buckets: ltimerGrow,
		Clock:   clk,
	})

	p, err := poller.New()
	if err != nil {
		s.timer.Exit()
		s.ltimer.Exit()
		return nil, err
	}
	s.poll = p

	driver, err := rt.Start(s.driverLoop, nil)
	if err != nil {
		s.timer.Exit()
		s.ltimer.Exit()
		_ = s.poll.Stop()
		return nil, err
	}
	s.driver = driver

	s.log.Info("ioscheduler: initialized")
	return s, nil
}

// Exit tears down the poller and both timer wheels and clears the runtime
// back-reference. Tolerates being called more than once or from a partially
// initialized Scheduler.
func (s *Scheduler) Exit() {
	if s == nil {
		return
	}
	if s.poll != nil {
		_ = s.poll.Stop()
	}
	if s.timer != nil {
		s.timer.Exit()
	}
	if s.ltimer != nil {
		s.ltimer.Exit()
	}
	s.rt = nil
}

// Kill requests a non-destructive kill of the poller and both timer wheels:
// pending timer tasks will fire with killed=true, and a blocked poller Wait
// returns immediately. This unsticks the Driver Loop so the runtime can
// observe its Stopped flag and exit. Idempotent, and safe to call from any
// goroutine.
//
// The wheels themselves are only ever mutated on the driver goroutine (see
// driver.go's killWheelsIfRequested): Kill only flips killedFlag with the
// teacher's CAS helper and wakes the poller, so a concurrent caller can
// never race the driver's own Spak/Delay calls on the same wheels.
func (s *Scheduler) Kill() {
	if s == nil || !concurrency.CASUint64(&s.killedFlag, 0, 1) {
		return
	}
	s.log.Info("ioscheduler: kill")
	if s.poll != nil {
		s.poll.Kill()
	}
}

// Wake unblocks a concurrent poller.Wait without touching either timer
// wheel, letting the Driver Loop re-run its drain/deadline/block cycle
// immediately instead of destructively killing pending timers the way Kill
// does. cmd/ioschedctl's file-watch companion calls this from outside any
// coroutine to get an external trigger into the loop; repeated calls are
// cheap since the underlying poller wake is a one-shot-per-block signal,
// not a latch.
func (s *Scheduler) Wake() {
	if s == nil || s.poll == nil {
		return
	}
	s.poll.Kill()
}

// Killed reports whether Kill has been called.
func (s *Scheduler) Killed() bool {
	return concurrency.LoadUint64(&s.killedFlag) == 1
}

// Err returns the last fatal error observed by the Driver Loop, or nil if
// none occurred. Once set, the Driver Loop has exited.
func (s *Scheduler) Err() error {
	b := s.errVal.Load()
	if b == nil {
		return nil
	}
	return b.err
}

func (s *Scheduler) setErr(err error) {
	if err == nil {
		return
	}
	s.errVal.Store(&errBox{err})
}

// wheelFor chooses the high- or low-precision wheel for d, per the original
// core's rule: second-aligned durations (the common idle/backoff case) use
// the cheaper low-precision wheel.
func (s *Scheduler) wheelFor(d time.Duration) (*timerwheel.Wheel, coro.Wheel) {
	if d > 0 && d%time.Second == 0 {
		return s.ltimer, coro.WheelLow
	}
	return s.timer, coro.WheelHigh
}

func (s *Scheduler) wheelByKind(k coro.Wheel) *timerwheel.Wheel {
	switch k {
	case coro.WheelLow:
		return s.ltimer
	case coro.WheelHigh:
		return s.timer
	default:
		return nil
	}
}
