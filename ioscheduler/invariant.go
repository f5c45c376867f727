package ioscheduler

import "fmt"

// invariant panics with msg (formatted printf-style with args) if cond is
// false. Used for programmer-error conditions — a missing running
// coroutine, a nil handle — that indicate a bug in the caller rather than a
// runtime condition, not something an error return should model.
func invariant(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}
