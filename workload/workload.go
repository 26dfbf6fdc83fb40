// Package workload drives a virtual-memory manager with a scripted,
// multi-process workload. Every process loads a read-only program segment,
// grows its stack, maps a data file and forks children while checking that
// every page it reads back holds what it wrote.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/vmm"
)

// ErrCorrupted is returned when a page read back differs from what was
// written to it.
var ErrCorrupted = errors.New("page content corrupted")

// Regions of the address space of every process.
const (
	codeBase = uint64(0x08048000)
	mapBase  = uint64(0x40000000)
)

// Config describes the workload.
type Config struct {
	Processes  int
	StackPages int
	CodePages  int
	MapPages   int
	Rounds     int

	// ForkEvery forks a child after every n rounds. Zero disables forking.
	ForkEvery int

	Seed uint64
}

// DefaultConfig returns a workload that overcommits a few hundred frames.
func DefaultConfig() Config {
	return Config{
		Processes:  4,
		StackPages: 64,
		CodePages:  8,
		MapPages:   8,
		Rounds:     4,
		ForkEvery:  2,
		Seed:       1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Processes <= 0, c.Rounds <= 0:
		return errors.New("at least one process and one round are needed")
	case c.StackPages <= 0 || uint64(c.StackPages)*vm.PageSize > vm.StackLimit:
		return fmt.Errorf("%d stack pages do not fit the stack", c.StackPages)
	case c.CodePages < 0, c.MapPages < 0, c.ForkEvery < 0:
		return errors.New("page counts must not be negative")
	}

	return nil
}

// Progress receives the number of finished rounds.
type Progress interface {
	IncrementFinished(amount uint64)
}

// Report summarizes a run.
type Report struct {
	Processes     int
	Forks         uint64
	PagesWritten  uint64
	PagesVerified uint64
	Corrupted     uint64
	Duration      time.Duration
	Stats         vmm.Stats
}

// A Runner runs a workload against a manager.
type Runner struct {
	name     string
	mgr      *vmm.Manager
	fs       *filesys.FS
	logger   *slog.Logger
	cfg      Config
	progress Progress

	gateLock sync.Mutex
	gate     *sync.Cond
	paused   bool

	forks     atomic.Uint64
	written   atomic.Uint64
	verified  atomic.Uint64
	corrupted atomic.Uint64
}

// Name returns the name of the runner.
func (r *Runner) Name() string {
	return r.name
}

// Config returns the workload description.
func (r *Runner) Config() Config {
	return r.cfg
}

// TotalRounds returns the number of rounds run by all processes together.
func (r *Runner) TotalRounds() uint64 {
	return uint64(r.cfg.Processes * r.cfg.Rounds)
}

// Pause stops the processes at their next round.
func (r *Runner) Pause() {
	r.gateLock.Lock()
	defer r.gateLock.Unlock()

	r.paused = true
}

// Continue resumes paused processes.
func (r *Runner) Continue() {
	r.gateLock.Lock()
	defer r.gateLock.Unlock()

	r.paused = false
	r.gate.Broadcast()
}

// Paused tells if the runner is paused.
func (r *Runner) Paused() bool {
	r.gateLock.Lock()
	defer r.gateLock.Unlock()

	return r.paused
}

func (r *Runner) waitIfPaused() {
	r.gateLock.Lock()
	defer r.gateLock.Unlock()

	for r.paused {
		r.gate.Wait()
	}
}

// Run starts every process and waits for all of them. Processes stop early
// when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	var (
		wg   sync.WaitGroup
		errs = make([]error, r.cfg.Processes)
	)

	for n := 0; n < r.cfg.Processes; n++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			errs[n] = r.runProcess(ctx, n)
		}(n)
	}

	wg.Wait()

	report := Report{
		Processes:     r.cfg.Processes,
		Forks:         r.forks.Load(),
		PagesWritten:  r.written.Load(),
		PagesVerified: r.verified.Load(),
		Corrupted:     r.corrupted.Load(),
		Duration:      time.Since(start),
		Stats:         r.mgr.Stats(),
	}

	err := errors.Join(errs...)
	if err == nil && report.Corrupted > 0 {
		err = fmt.Errorf("%d pages: %w", report.Corrupted, ErrCorrupted)
	}

	r.logger.Info("workload finished",
		"name", r.name,
		"duration", report.Duration,
		"written", report.PagesWritten,
		"verified", report.PagesVerified,
		"forks", report.Forks,
		"err", err)

	return report, err
}
