package coro

import "github.com/orizon-lang/iosched/timerwheel"

// Wheel identifies which of the I/O scheduler's two timer wheels a pending
// deadline lives on.
type Wheel uint8

const (
	// WheelNone means "no deadline armed".
	WheelNone Wheel = iota
	// WheelHigh is the sub-second precision wheel.
	WheelHigh
	// WheelLow is the one-second precision wheel.
	WheelLow
)

// Kind discriminates the four states a coroutine's IOState can be in: a
// single tagged-variant field in place of three opaque per-coroutine slots,
// so the valid combinations are named explicitly. The IOState struct does
// not itself reject an invalid combination (e.g. Kind Idle with a Task set);
// the scheduler only ever writes the combinations listed here.
type Kind uint8

const (
	// Idle: no pending Wait/Sleep. Invariant I2 requires every coroutine to
	// be in this state immediately after it resumes.
	Idle Kind = iota
	// Sleeping: a deadline is armed, nothing registered with the poller.
	Sleeping
	// WaitingIO: a socket is registered with the poller, no deadline.
	WaitingIO
	// WaitingIOTimeout: both a socket and a deadline are armed.
	WaitingIOTimeout
)

// IOState is the per-coroutine I/O book-keeping the scheduler stages before
// suspending a waiter and clears after resuming it: armed before Suspend,
// back to Idle after every Resume, with nothing left dangling in the
// poller or a timer wheel. Sock is typed as any to keep this package
// independent of the poller package; package ioscheduler is the only place
// that type-asserts it back to poller.Socket.
type IOState struct {
	Kind  Kind
	Task  *timerwheel.Task
	Wheel Wheel
	Sock  any
}

// Reset returns the state to Idle, matching invariant I2. Returns the task
// and wheel that were pending, if any, so the caller can cancel them.
func (s *IOState) Reset() (*timerwheel.Task, Wheel) {
	t, w := s.Task, s.Wheel
	*s = IOState{}
	return t, w
}
