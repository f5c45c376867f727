package ioscheduler

import "github.com/orizon-lang/iosched/coro"

// driverLoop is the Driver Loop: the one coroutine that owns the blocking
// poller.Wait call. It runs until the runtime reports Stopped.
func (s *Scheduler) driverLoop(_ *coro.Coroutine, _ any) {
	for !s.rt.Stopped() {
		// Kill is requested from an arbitrary goroutine (Scheduler.Kill
		// only flips killedFlag and pokes the poller); the wheels
		// themselves are only ever mutated here, on the driver goroutine,
		// so killWheelsIfRequested is what actually fires pending tasks as
		// killed. Wheel.Kill is idempotent, so calling this every
		// iteration after a kill is harmless.
		s.killWheelsIfRequested()

		if err := s.drainRunnables(); err != nil {
			s.log.Error("ioscheduler: timer advance fatal during drain", "err", err)
			s.setErr(err)
			return
		}

		// Deliberately not short-circuited by SuspendCount()==0: a coroutine
		// can be started on rt from another goroutine at any time (as
		// cmd/ioschedctl does, starting the driver before anything else
		// calls sch.Wait), so an empty runtime right now doesn't mean the
		// driver has nothing left to do. poll.Wait blocks with
		// timerwheel.MaxDelay when both wheels are empty, waking only on a
		// real event, a Kill, or the poller closing out from under
		// Scheduler.Exit — never a busy spin.
		timeout := s.timer.Delay()
		if lt := s.ltimer.Delay(); lt < timeout {
			timeout = lt
		}

		n, err := s.poll.Wait(s.onEvent, timeout)
		if n < 0 || err != nil {
			s.log.Error("ioscheduler: driver loop fatal", "err", err)
			s.setErr(err)
			return
		}

		s.killWheelsIfRequested()

		if err := s.advanceTimers(); err != nil {
			s.log.Error("ioscheduler: timer advance fatal", "err", err)
			s.setErr(err)
			return
		}
	}
}

// killWheelsIfRequested fires every pending timer task as killed, but only
// ever from the driver goroutine: Scheduler.Kill itself must not touch
// wheel state directly, since that could run concurrently with this
// goroutine's own Spak/Delay calls on the same wheels.
func (s *Scheduler) killWheelsIfRequested() {
	if !s.Killed() {
		return
	}
	s.timer.Kill()
	s.ltimer.Kill()
}

// drainRunnables repeatedly yields to the runtime, advancing timers between
// yields, until the ready queue reports empty. Runnables run before the
// driver ever blocks in the poller, so a coroutine woken as a side effect of
// this tick's event dispatch is serviced immediately.
func (s *Scheduler) drainRunnables() error {
	for s.rt.Yield() {
		if err := s.advanceTimers(); err != nil {
			return err
		}
	}
	return nil
}

// advanceTimers refreshes the cached clock and advances both wheels.
func (s *Scheduler) advanceTimers() error {
	s.clk.Spak()
	if err := s.timer.Spak(); err != nil {
		return err
	}
	return s.ltimer.Spak()
}
