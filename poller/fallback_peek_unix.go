//go:build solaris || aix || dragonfly || illumos

package poller

import "syscall"

// peekCapable is true here: these are the Unix targets left uncovered by
// epoll_linux.go/kqueue_bsd.go whose syscall package still exposes the
// common Berkeley recv(2) shape — Recvfrom, MSG_PEEK, EAGAIN, EWOULDBLOCK —
// that watchRead needs.
const peekCapable = true

// watchRead polls sock for readability using the raw file descriptor's
// MSG_PEEK flag, so whatever data arrives stays in the kernel socket buffer
// for the caller's own sock.Read to pick up afterward. rc.Read blocks (via
// the runtime netpoller) between probe attempts instead of busy-spinning.
func (p *fallbackPoller) watchRead(reg *fallbackReg) {
	rc, err := reg.sock.(syscall.Conn).SyscallConn()
	if err != nil {
		p.deliver(reg, Readable, err)
		return
	}

	select {
	case <-reg.cancel:
		return
	case <-p.closed:
		return
	default:
	}

	buf := make([]byte, 1)
	var n int
	var peekErr error
	ctrlErr := rc.Read(func(fd uintptr) bool {
		n, _, peekErr = syscall.Recvfrom(int(fd), buf, syscall.MSG_PEEK)
		// false tells RawConn.Read the fd wasn't actually ready yet
		// (EAGAIN/EWOULDBLOCK), so it parks on the netpoller and retries
		// internally instead of spinning this goroutine. EINTR means the
		// peek was interrupted by an unrelated signal before it could tell
		// us anything about the socket, not a real failure — also worth an
		// internal retry rather than reporting a healthy connection as
		// failed, just as epoll_linux.go/kqueue_bsd.go treat an EINTR in
		// Wait as a plain (0, nil) return, not an error. rc.Read only returns once this callback
		// returns true, so by the time it does, peekErr is none of these
		// three.
		return peekErr != syscall.EAGAIN && peekErr != syscall.EWOULDBLOCK && peekErr != syscall.EINTR
	})
	if ctrlErr != nil {
		p.deliver(reg, Readable, ctrlErr)
		return
	}
	if peekErr != nil {
		p.deliver(reg, Readable, peekErr)
		return
	}
	// n == 0, peekErr == nil: the peer closed the connection. Reported as
	// readable (not an error), same as a real epoll/kqueue HUP — the
	// caller's own Read will see io.EOF.
	_ = n
	p.deliver(reg, Readable, nil)
}
