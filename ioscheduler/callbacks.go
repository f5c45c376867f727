package ioscheduler

import (
	"github.com/orizon-lang/iosched/coro"
	"github.com/orizon-lang/iosched/poller"
)

// onEvent is the poller's dispatch callback. It runs on the Driver Loop's
// goroutine while priv's coroutine is suspended — the only code besides
// onTimeout allowed to mutate a suspended waiter's IOState.
//
// Per ordering guarantee O1, this cancels the companion timer (if any)
// before resuming, so onTimeout can never also fire for the same Wait.
func (s *Scheduler) onEvent(_ poller.Poller, sock poller.Socket, events poller.EventMask, priv any) {
	co, ok := priv.(*coro.Coroutine)
	if !ok || co == nil {
		return
	}

	task, wheel := co.IO.Reset()
	if task != nil {
		if w := s.wheelByKind(wheel); w != nil {
			w.Cancel(task)
		}
	}

	_ = s.poll.Remove(sock)

	s.rt.Resume(co, events)
}

// onTimeout is the timer wheel's callback, shared by both the timer and
// ltimer instances and fired either when a deadline elapses or when the
// owning wheel is killed.
//
// Per ordering guarantee O2, removing a socket that onEvent already removed
// this tick is a no-op (poller.Remove tolerates an unknown socket), so this
// callback is safe to run even when it lost the race to onEvent.
func (s *Scheduler) onTimeout(killed bool, priv any) {
	co, ok := priv.(*coro.Coroutine)
	if !ok || co == nil {
		return
	}

	sock, _ := co.IO.Sock.(poller.Socket)
	co.IO = coro.IOState{}

	if sock != nil {
		_ = s.poll.Remove(sock)
	}

	if killed {
		s.log.Debug("ioscheduler: timer fired as killed", "sock", sock != nil)
	}

	// A zero EventMask is indistinguishable from "timeout" to Wait, and is
	// simply ignored by Sleep.
	s.rt.Resume(co, poller.EventMask(0))
}
