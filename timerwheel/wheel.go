// Package timerwheel implements a bucketed deadline wheel, the timer
// primitive the I/O scheduler core arms Sleep and Wait-with-timeout against.
//
// The design is grounded on intuitivelabs-wtimer's hierarchical timer wheel
// (wtimer.go, timer_lst.go, ticks.go) but deliberately simplified: wtimer is
// built for a multi-goroutine producer/consumer world (opLock, per-run-queue
// locks, DelWait spin loops) because timers can be armed and fired from any
// goroutine concurrently. This core's timer wheels are only ever touched
// from the single driver goroutine, so the locking,
// run-queue distribution, and race-recovery machinery in wtimer collapse
// down to a plain circular buffer of intrusive lists plus one overflow list,
// cascaded the way wtimer's redistTimers moves entries from coarser wheels
// into wheel 0.
package timerwheel

import (
	"time"

	"github.com/orizon-lang/iosched/clock"
)

// MaxDelay is returned by Delay when the wheel holds no pending tasks. It is
// large enough that callers can feed it directly to a poller timeout of "no
// limit" by clamping, without overflowing int conversions.
const MaxDelay = time.Duration(1<<63 - 1)

// Config configures a Wheel.
type Config struct {
	// Tick is the duration represented by one wheel slot. Smaller ticks give
	// finer precision at the cost of more buckets to scan in Delay/Spak.
	Tick time.Duration
	// Buckets is the circular buffer size (the "grow hint" from the
	// original core's TIMER_GROW/LTIMER_GROW). Deadlines further out than
	// Buckets*Tick are held in an overflow list and cascaded in as the
	// wheel advances.
	Buckets int
	// Clock supplies the cached "now" used by Spak. Required.
	Clock *clock.Cache
}

// Wheel is a single timer wheel instance. The I/O scheduler owns two: one
// high-precision (sub-second tick), one low-precision (one-second tick).
type Wheel struct {
	cfg      Config
	buckets  []taskList
	overflow taskList
	cur      uint64 // current tick counter
	active   int    // number of live tasks, for O(1) emptiness checks
	acc      time.Duration
	lastNow  time.Time
	killed   bool
	closed   bool
}

// New creates a Wheel. It never fails: a zero Buckets or Tick is replaced
// with a sane default, matching the original core's tolerance for a
// "small profile" grow hint.
func New(cfg Config) *Wheel {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 64
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Millisecond
	}
	w := &Wheel{
		cfg:     cfg,
		buckets: make([]taskList, cfg.Buckets),
		lastNow: cfg.Clock.Now(),
	}
	for i := range w.buckets {
		w.buckets[i].init()
	}
	w.overflow.init()
	return w
}

// Post arms a one-shot task to fire after d elapses (or, if d <= 0, on the
// first Spak that advances the wheel by a tick). It returns ErrClosed if the
// wheel was already exited.
func (w *Wheel) Post(d time.Duration, cb TimerFunc, priv any) (*Task, error) {
	if w.closed {
		return nil, ErrClosed
	}
	ticks := w.ticksFor(d)
	t := &Task{expire: w.cur + ticks, cb: cb, priv: priv}
	w.place(t, ticks)
	w.active++
	return t, nil
}

func (w *Wheel) ticksFor(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	ticks := uint64(d / w.cfg.Tick)
	if d%w.cfg.Tick != 0 {
		ticks++ // round up: never fire early
	}
	if ticks == 0 {
		ticks = 1
	}
	return ticks
}

func (w *Wheel) place(t *Task, ticksFromNow uint64) {
	if ticksFromNow < uint64(len(w.buckets)) {
		idx := (w.cur + ticksFromNow) % uint64(len(w.buckets))
		w.buckets[idx].append(t)
	} else {
		w.overflow.append(t)
	}
}

// Cancel removes t from the wheel. Safe to call more than once or after t
// has already fired; both are no-ops (idempotent cancellation of a missing
// handle).
func (w *Wheel) Cancel(t *Task) {
	if t == nil || t.bucket == nil {
		return
	}
	t.rm()
	w.active--
}

// Empty reports whether the wheel currently holds no pending tasks.
func (w *Wheel) Empty() bool {
	return w.active == 0
}

// Delay returns the time until the next task would fire, or MaxDelay if the
// wheel is empty. It is a scan, not an O(1) lookup: it is only ever called
// once or twice per driver tick, so trading a bounded
// scan over Buckets slots for the simplicity of not maintaining a separate
// min-heap is the right tradeoff here.
func (w *Wheel) Delay() time.Duration {
	if w.active == 0 {
		return MaxDelay
	}
	n := uint64(len(w.buckets))
	best := uint64(0)
	found := false
	for i := uint64(0); i < n; i++ {
		if !w.buckets[(w.cur+i)%n].isEmpty() {
			best = i
			found = true
			break
		}
	}
	if !w.overflow.isEmpty() {
		for v := w.overflow.head.next; v != &w.overflow.head; v = v.next {
			rem := v.expire - w.cur
			if !found || rem < best {
				best = rem
				found = true
			}
		}
	}
	if !found {
		return MaxDelay
	}
	return time.Duration(best) * w.cfg.Tick
}

// Spak advances the wheel according to the cached clock and fires every task
// whose deadline has elapsed. It returns ErrClosed once the wheel has been
// exited, and no other error.
func (w *Wheel) Spak() error {
	if w.closed {
		return ErrClosed
	}
	now := w.cfg.Clock.Now()
	w.acc += now.Sub(w.lastNow)
	w.lastNow = now
	for w.acc >= w.cfg.Tick {
		w.acc -= w.cfg.Tick
		w.advanceOneTick()
	}
	return nil
}

func (w *Wheel) advanceOneTick() {
	n := uint64(len(w.buckets))
	idx := w.cur % n
	var expired taskList
	expired.init()
	w.buckets[idx].drainInto(&expired)
	w.cur++
	if w.cur%n == 0 {
		w.cascade()
	}
	expired.forEachRemove(func(t *Task) {
		w.active--
		t.cb(w.killed, t.priv)
	})
}

// cascade moves overflow entries that now fit within the bucket span back
// into their bucket, the same redistribution wtimer's redistTimers performs
// when a coarser wheel's position wraps.
func (w *Wheel) cascade() {
	if w.overflow.isEmpty() {
		return
	}
	n := uint64(len(w.buckets))
	var stay taskList
	stay.init()
	w.overflow.forEachRemove(func(t *Task) {
		rem := t.expire - w.cur
		if rem < n {
			w.buckets[(w.cur+rem)%n].append(t)
		} else {
			stay.append(t)
		}
	})
	stay.drainInto(&w.overflow)
}

// Kill fires every pending task with killed=true without removing the wheel
// itself, so a subsequent Exit can still tear it down cleanly. Idempotent.
func (w *Wheel) Kill() {
	if w.killed {
		return
	}
	w.killed = true
	var all taskList
	all.init()
	for i := range w.buckets {
		w.buckets[i].drainInto(&all)
	}
	w.overflow.drainInto(&all)
	all.forEachRemove(func(t *Task) {
		w.active--
		t.cb(true, t.priv)
	})
}

// Exit tears down the wheel. Tolerates being called more than once or on a
// wheel that was never populated.
func (w *Wheel) Exit() {
	w.closed = true
}
