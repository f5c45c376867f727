package main

import (
	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/iosched/ioscheduler"
)

// pokeWatcher watches a directory for "poke" files being created or written
// and turns each such event into a Scheduler.Wake() call: a way to get an external,
// non-coroutine trigger into a single-goroutine event loop without a
// bespoke signal/pipe mechanism.
type pokeWatcher struct {
	w   *fsnotify.Watcher
	sch *ioscheduler.Scheduler
	log Logger
}

func newPokeWatcher(dir string, sch *ioscheduler.Scheduler, log Logger) (*pokeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &pokeWatcher{w: w, sch: sch, log: log}, nil
}

// run drains watcher events until the watcher is closed. Intended to run on
// its own goroutine, outside any coroutine started on the scheduler's
// runtime — Wake is safe to call from any goroutine.
func (p *pokeWatcher) run() {
	for {
		select {
		case ev, ok := <-p.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				p.log.Infof("ioschedctl: poke file %s, waking scheduler", ev.Name)
				p.sch.Wake()
			}
		case err, ok := <-p.w.Errors:
			if !ok {
				return
			}
			p.log.Errorf("ioschedctl: watch error: %v", err)
		}
	}
}

func (p *pokeWatcher) close() error {
	return p.w.Close()
}
