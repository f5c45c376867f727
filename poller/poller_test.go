package poller

import (
	"net"
	"testing"
	"time"
)

// loopbackPair returns two connected TCP sockets so Insert/Remove/Wait can
// be exercised against the platform's real backend — epoll, kqueue, and the
// portable fallback all extract a genuine fd from these via syscall.Conn.
func loopbackPair(t *testing.T) (a, b net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted
	return client, server
}

func TestInsertWaitRemoveOnReadable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	if err := p.Insert(server, Readable, "payload"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := client.Write([]byte("hi")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	var gotPriv any
	var gotEvents EventMask
	n, err := p.Wait(func(_ Poller, sock Socket, events EventMask, priv any) {
		gotPriv = priv
		gotEvents = events
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("Wait dispatched %d sockets, want 1", n)
	}
	if gotEvents&Readable == 0 {
		t.Fatalf("dispatched events = %v, want Readable set", gotEvents)
	}
	if gotPriv != "payload" {
		t.Fatalf("dispatched priv = %v, want %q", gotPriv, "payload")
	}

	if err := p.Remove(server); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Removing twice must be a no-op: a racing timer-driven removal must not error.
	if err := p.Remove(server); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestWaitTimesOutWithNoEvent(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	if err := p.Insert(server, Readable, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := p.Wait(func(Poller, Socket, EventMask, any) {
		t.Fatalf("dispatch called with nothing written")
	}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("Wait dispatched %d sockets, want 0 on timeout", n)
	}
}

func TestKillUnblocksWait(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(func(Poller, Socket, EventMask, any) {}, -1)
		done <- err
	}()

	// Give the Wait call a moment to actually block before killing it.
	time.Sleep(20 * time.Millisecond)
	p.Kill()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error after Kill: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Kill did not unblock a pending Wait within 2s")
	}
}

func TestInsertInvalidSocket(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	if err := p.Insert(nil, Readable, nil); err == nil {
		t.Fatalf("Insert(nil) = nil error, want ErrInvalidSocket")
	}
}

func TestInsertWaitOnWritable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	// A freshly connected socket's send buffer is empty, so it's writable
	// immediately — this should never need a real write to unblock Wait.
	if err := p.Insert(client, Writable, "writer"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var gotEvents EventMask
	n, err := p.Wait(func(_ Poller, sock Socket, events EventMask, priv any) {
		gotEvents = events
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("Wait dispatched %d sockets, want 1", n)
	}
	if gotEvents&Writable == 0 {
		t.Fatalf("dispatched events = %v, want Writable set", gotEvents)
	}
}

// TestReInsertNarrowsInterest re-registers the same socket with a different
// event mask and checks the narrower interest is the only one that fires —
// the prior registration's now-unwanted filter must not leak a stale event.
func TestReInsertNarrowsInterest(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Stop()

	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	if err := p.Insert(server, Readable|Writable, "both"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := p.Insert(server, Readable, "read-only"); err != nil {
		t.Fatalf("re-Insert: %v", err)
	}

	if _, err := client.Write([]byte("hi")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	var gotPriv any
	var gotEvents EventMask
	n, err := p.Wait(func(_ Poller, sock Socket, events EventMask, priv any) {
		gotPriv = priv
		gotEvents = events
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("Wait dispatched %d sockets, want 1", n)
	}
	if gotPriv != "read-only" {
		t.Fatalf("dispatched priv = %v, want %q (the narrowed registration)", gotPriv, "read-only")
	}
	if gotEvents&Readable == 0 {
		t.Fatalf("dispatched events = %v, want Readable set", gotEvents)
	}
	if gotEvents&Writable != 0 {
		t.Fatalf("dispatched events = %v, want Writable unset: the narrowed-away filter must not leak a stale event even though the socket is in fact still writable", gotEvents)
	}
}
