package timerwheel

import "errors"

// ErrClosed is returned by Post/Spak once a Wheel has been Exit-ed.
var ErrClosed = errors.New("timerwheel: wheel closed")
