package ioscheduler

import (
	"time"

	"github.com/orizon-lang/iosched/coro"
)

// Sleep suspends the calling coroutine for at least d, resuming it when the
// corresponding timer task fires. It must be called from within a coroutine
// started on the Scheduler's runtime; calling it from outside one panics,
// matching the original core's treatment of a missing running coroutine as
// a programmer error rather than a runtime condition.
func (s *Scheduler) Sleep(d time.Duration) {
	co := s.rt.Running()
	invariant(co != nil, "ioscheduler: Sleep called with no running coroutine")

	wheel, _ := s.wheelFor(d)
	// Post is assumed infallible here: the wheel is only ever closed by
	// Exit, which an embedder must not call while coroutines are still
	// running against it.
	_, _ = wheel.Post(d, s.onTimeout, co)

	// Sleep retains no cancellable handle: the timer fires exactly once and
	// there is nothing on the Wait side to cancel, so IOState goes straight
	// to Idle rather than Sleeping{Task, Wheel}. This differs from the
	// distilled core's literal slot layout (which records slot[0]/slot[1]
	// even for Sleep) but preserves invariant I2: Sleep's coroutine has
	// nothing left to clean up at resume either way, and onTimeout never
	// reads Task/Wheel for a coroutine it resumes — only Sock.
	co.IO = coro.IOState{}

	co.Suspend()
}
