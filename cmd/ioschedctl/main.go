// Command ioschedctl is a small operator-facing companion around the
// ioscheduler core: it prints build/version information and, given a
// --poke-dir, bridges filesystem events into Scheduler.Wake() calls so an
// external process can nudge a running scheduler without a coroutine of its
// own.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/orizon-lang/iosched/coro"
	"github.com/orizon-lang/iosched/ioscheduler"
)

// Logger is ioschedctl's own printf-style logging seam, distinct from
// ioscheduler.Logger's structured field style — this binary only ever logs
// to stderr for an operator, not into a structured sink.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type stdLogger struct{ *log.Logger }

func (l stdLogger) Infof(format string, args ...any)  { l.Printf("INFO "+format, args...) }
func (l stdLogger) Errorf(format string, args ...any) { l.Printf("ERROR "+format, args...) }

func main() {
	var (
		pokeDir    = flag.String("poke-dir", "", "directory to watch for poke files that wake the scheduler")
		minVersion = flag.String("require-version", "", "fail unless ioschedctl's version satisfies >= this constraint")
	)
	flag.Parse()

	logger := stdLogger{log.New(os.Stderr, "", log.LstdFlags)}

	if *minVersion != "" {
		ok, err := checkMinVersion(*minVersion)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(2)
		}
		if !ok {
			logger.Errorf("ioschedctl %s does not satisfy >= %s", Version, *minVersion)
			os.Exit(1)
		}
	}

	fmt.Printf("ioschedctl %s\n", Version)

	if *pokeDir == "" {
		return
	}

	rt := coro.NewRuntime(coro.Config{})
	sch, err := ioscheduler.Init(rt, ioscheduler.Config{})
	if err != nil {
		logger.Errorf("ioscheduler.Init: %v", err)
		os.Exit(1)
	}
	defer sch.Exit()

	watcher, err := newPokeWatcher(*pokeDir, sch, logger)
	if err != nil {
		logger.Errorf("watch %s: %v", *pokeDir, err)
		os.Exit(1)
	}
	defer watcher.close()
	go watcher.run()
	go rt.Run()

	logger.Infof("watching %s for poke files; ctrl-c to stop", *pokeDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	sch.Kill()
	rt.Stop()
}
