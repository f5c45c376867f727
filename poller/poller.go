// Package poller provides the readiness multiplexer the I/O scheduler core
// blocks in: insert/remove/wait over sockets, with real OS backends where
// available and a portable fallback elsewhere.
//
// Grounded on internal/runtime/asyncio/async_io.go (the goroutine-driven
// fallback poller), epoll_poller_linux.go, and kqueue_poller_bsd.go, but
// restructured from that package's per-registration-callback model (each
// Register spawns its own delivery path) into the single blocking
// Wait(dispatch, timeout) call a single driver loop needs:
// one call that blocks until something is ready or the timeout elapses,
// invoking dispatch once per ready socket before returning.
package poller

import (
	"errors"
	"net"
	"time"
)

// EventMask is a bitmask of readiness kinds.
type EventMask uint32

const (
	Readable EventMask = 1 << iota
	Writable
	ErrorEvent
	// EdgeClear requests one-shot edge-triggered delivery where the backend
	// supports it (see Capability/Supports below).
	EdgeClear
)

// Socket is anything the poller can watch. Every backend needs a real file
// descriptor underneath (TCP and Unix sockets have one); a conn without one,
// such as net.Pipe's, is rejected by Insert with ErrInvalidSocket.
type Socket = net.Conn

// Dispatch is invoked once per ready socket from inside Wait, on the calling
// (driver) goroutine. It must not block.
type Dispatch func(p Poller, sock Socket, events EventMask, priv any)

// Capability identifies an optional poller feature.
type Capability int

const (
	// CapEdgeTriggered reports whether the backend supports EdgeClear.
	CapEdgeTriggered Capability = iota
)

// ErrClosed is returned by Insert and Wait after Stop. Kill does not close
// the poller, and Remove never returns it.
var ErrClosed = errors.New("poller: closed")

// ErrInvalidSocket is returned by Insert for a nil socket or one the backend
// cannot extract a file descriptor from.
var ErrInvalidSocket = errors.New("poller: invalid socket")

// Poller is the black-box readiness multiplexer the I/O scheduler owns.
type Poller interface {
	// Insert registers sock for the given events, tagging the registration
	// with priv (the waiting coroutine, opaque to the poller). Returns
	// ErrInvalidSocket or a backend error without side effects on failure.
	//
	// A socket has at most one registration at a time: inserting again
	// before the first registration's event or Remove replaces it
	// entirely, on every backend, matching ioscheduler.Wait's one
	// suspended coroutine per sock contract. Registering the same sock
	// for a second, concurrently-pending waiter is not supported and
	// drops the first waiter's registration.
	Insert(sock Socket, events EventMask, priv any) error
	// Remove deregisters sock. Idempotent: removing an unknown socket is a
	// no-op, so a racing timer-driven removal never errors.
	Remove(sock Socket) error
	// Wait blocks until at least one registered socket is ready or timeout
	// elapses (timeout < 0 means wait indefinitely), dispatching once per
	// ready socket before returning. Returns the number of sockets
	// dispatched, 0 on timeout, or a negative/error value on fatal failure.
	Wait(dispatch Dispatch, timeout time.Duration) (int, error)
	// Kill unblocks a concurrent or future Wait call once, as if its
	// timeout had elapsed. The unblocked call returns a 0 dispatch count
	// and a nil error, UNLESS the same underlying poll batch also reports
	// a registered socket genuinely ready: epoll_wait(2)/kevent(2) surface
	// the wake alongside any other ready fd in one syscall return, and
	// that ready socket is dispatched rather than silently dropped just
	// because a Kill happened to land in the same batch. The portable
	// backend can't produce this overlap (its wake and readiness signals
	// arrive on independent channels, never merged into one batch), so it
	// always returns 0 there. It is a repeatable wake signal, not a latch:
	// Wait behaves normally again on the next call. Registrations and
	// backend resources are untouched; Stop is what makes the poller
	// permanently unusable.
	Kill()
	// Stop releases backend resources. Tolerates partial initialization.
	Stop() error
	// Supports reports whether the backend implements the given capability.
	Supports(c Capability) bool
}

// validEvents reports whether m requests at least one of Readable or
// Writable. Every backend's Insert rejects a mask that asks for neither:
// such a registration would otherwise be accepted but never fire (an empty
// epoll interest mask, no kqueue filter armed, or no fallback watcher
// goroutine spawned), with no error to tell the caller why.
func validEvents(m EventMask) bool {
	return m&(Readable|Writable) != 0
}
