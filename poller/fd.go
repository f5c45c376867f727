//go:build !windows

package poller

import "syscall"

// fdOf extracts the raw file descriptor backing sock, for handing to
// epoll_ctl/kevent. sock must implement the stdlib syscall.Conn interface
// with its exact syscall.RawConn return type — net.TCPConn, net.UnixConn,
// and friends all do. Returns false if sock does not expose one (e.g. an
// in-memory net.Pipe conn).
func fdOf(sock Socket) (int, bool) {
	sc, ok := sock.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil || rc == nil {
		return 0, false
	}
	var fd int
	if err := rc.Control(func(u uintptr) { fd = int(u) }); err != nil {
		return 0, false
	}
	return fd, true
}
