//go:build linux

package poller

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a real epoll-backed Poller for Linux, built on
// golang.org/x/sys/unix.epoll_{create1,ctl,wait}.
type epollPoller struct {
	fd     int
	wakeFD int

	mu   sync.Mutex
	regs map[int]*epollReg

	waking atomic.Bool
	closed atomic.Bool

	// events backs Wait's unix.EpollWait call; reused across calls so the
	// driver loop's hot path doesn't churn a 64-entry allocation per tick.
	// Wait is only ever called from the single driver goroutine, so no
	// lock is needed around it.
	events []unix.EpollEvent
}

type epollReg struct {
	sock   Socket
	events EventMask
	priv   any
}

// New returns the Linux native poller.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	p := &epollPoller{fd: fd, wakeFD: wfd, regs: make(map[int]*epollReg), events: make([]unix.EpollEvent, 64)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(wfd)
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) Insert(sock Socket, events EventMask, priv any) error {
	if p.closed.Load() {
		return ErrClosed
	}
	fd, ok := fdOf(sock)
	if !ok {
		return ErrInvalidSocket
	}
	if !validEvents(events) {
		return ErrInvalidSocket
	}
	var mask uint32
	if events&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	if events&EdgeClear != 0 {
		mask |= unix.EPOLLET
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}

	p.mu.Lock()
	_, exists := p.regs[fd]
	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(p.fd, op, fd, &ev)
	if err == nil {
		p.regs[fd] = &epollReg{sock: sock, events: events, priv: priv}
	}
	p.mu.Unlock()
	return err
}

func (p *epollPoller) Remove(sock Socket) error {
	fd, ok := fdOf(sock)
	if !ok {
		return nil
	}
	p.mu.Lock()
	_, exists := p.regs[fd]
	delete(p.regs, fd)
	p.mu.Unlock()
	if !exists {
		return nil
	}
	_ = unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) Wait(dispatch Dispatch, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := unix.EpollWait(p.fd, p.events, msTimeout(timeout))
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return -1, err
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakeFD {
			var buf [8]byte
			_, _ = unix.Read(p.wakeFD, buf[:])
			p.waking.Store(false)
			continue
		}
		p.mu.Lock()
		reg := p.regs[fd]
		p.mu.Unlock()
		if reg == nil {
			continue
		}
		var em EventMask
		if p.events[i].Events&unix.EPOLLIN != 0 {
			em |= Readable
		}
		if p.events[i].Events&unix.EPOLLOUT != 0 {
			em |= Writable
		}
		if p.events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			em |= ErrorEvent
		}
		dispatch(p, reg.sock, em, reg.priv)
		dispatched++
	}
	return dispatched, nil
}

func (p *epollPoller) Kill() {
	if p.closed.Load() || !p.waking.CompareAndSwap(false, true) {
		return
	}
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakeFD, one[:])
}

func (p *epollPoller) Stop() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = unix.Close(p.fd)
	_ = unix.Close(p.wakeFD)
	return nil
}

func (p *epollPoller) Supports(c Capability) bool {
	return c == CapEdgeTriggered
}

func msTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms > int64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(ms)
}
