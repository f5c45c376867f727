package timerwheel

// TimerFunc is invoked when a Task fires, either because its deadline
// elapsed or because the owning Wheel was killed. killed distinguishes the
// two for logging purposes only; callers must treat both the same way per
// the core's error-handling design.
type TimerFunc func(killed bool, priv any)

// Task is a single pending timer entry. It is an intrusive doubly-linked
// list node, in the style of intuitivelabs-wtimer's TimerLnk, simplified
// since this wheel is only ever touched from one goroutine (the driver
// loop) and therefore needs none of TimerLnk's run-queue/race-recovery
// machinery.
type Task struct {
	next, prev *Task
	bucket     *taskList // list currently holding this task, nil if none
	expire     uint64    // absolute tick at which this task fires
	cb         TimerFunc
	priv       any
}

// taskList is a sentinel-headed circular list, mirroring wtimer's timerLst.
type taskList struct {
	head Task
}

func (l *taskList) init() {
	l.head.next = &l.head
	l.head.prev = &l.head
}

func (l *taskList) isEmpty() bool {
	return l.head.next == &l.head
}

// append adds t at the end of l. t must be detached.
func (l *taskList) append(t *Task) {
	t.prev = l.head.prev
	t.next = &l.head
	t.prev.next = t
	l.head.prev = t
	t.bucket = l
}

// rm detaches t from whatever list currently holds it.
func (t *Task) rm() {
	if t.bucket == nil {
		return
	}
	t.prev.next = t.next
	t.next.prev = t.prev
	t.next, t.prev, t.bucket = nil, nil, nil
}

// drainInto moves every entry of l onto the end of dst, leaving l empty.
func (l *taskList) drainInto(dst *taskList) {
	for v := l.head.next; v != &l.head; {
		next := v.next
		v.rm()
		dst.append(v)
		v = next
	}
}

// forEachRemove calls f for every task in l, removing each one first so f is
// free to re-arm it into another list.
func (l *taskList) forEachRemove(f func(*Task)) {
	for !l.isEmpty() {
		t := l.head.next
		t.rm()
		f(t)
	}
}
