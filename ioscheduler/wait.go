package ioscheduler

import (
	"time"

	"github.com/orizon-lang/iosched/coro"
	"github.com/orizon-lang/iosched/poller"
)

// Wait registers sock with the poller for events, optionally arms a
// deadline, and suspends the calling coroutine until one of the two fires.
//
// Return contract:
//   - (events, nil) with events != 0: the socket became ready.
//   - (0, nil): the timeout elapsed with no event, or the scheduler was
//     killed while this Wait was pending.
//   - (0, err): the poller rejected the registration (closed socket,
//     scheduler already closed); the coroutine is never suspended in this
//     case.
//
// timeout < 0 waits indefinitely. timeout == 0 is not special-cased: it
// arms a zero-delay timer task that fires on the next tick, effectively a
// poll.
func (s *Scheduler) Wait(sock poller.Socket, events poller.EventMask, timeout time.Duration) (poller.EventMask, error) {
	co := s.rt.Running()
	invariant(co != nil, "ioscheduler: Wait called with no running coroutine")

	if s.poll.Supports(poller.CapEdgeTriggered) {
		events |= poller.EdgeClear
	}

	if err := s.poll.Insert(sock, events, co); err != nil {
		return 0, err
	}

	if timeout >= 0 {
		wheel, kind := s.wheelFor(timeout)
		// Post is assumed infallible here, same as in Sleep: the wheel is
		// only ever closed by Exit, which an embedder must not call while
		// coroutines are still running against it.
		task, _ := wheel.Post(timeout, s.onTimeout, co)
		co.IO = coro.IOState{Kind: coro.WaitingIOTimeout, Task: task, Wheel: kind, Sock: sock}
	} else {
		co.IO = coro.IOState{Kind: coro.WaitingIO, Sock: sock}
	}

	v := co.Suspend()
	em, _ := v.(poller.EventMask)
	return em, nil
}
