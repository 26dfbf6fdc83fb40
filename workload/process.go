package workload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/vmm"
)

const codeTag = uint64(1) << 63

// pageContent returns the bytes expected in a page identified by stream.
func pageContent(seed, stream uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, stream))

	page := make([]byte, vm.PageSize)
	for i := 0; i < len(page); i += 8 {
		binary.LittleEndian.PutUint64(page[i:], rng.Uint64())
	}

	return page
}

func stackStream(owner, round, page int) uint64 {
	return uint64(owner)<<40 | uint64(round)<<20 | uint64(page)
}

func stackAddr(page int) uint64 {
	return vm.PhysBase - uint64(page+1)*vm.PageSize
}

type worker struct {
	r   *Runner
	id  int
	p   *vmm.Process
	rng *rand.Rand

	code    vm.File
	data    vm.File
	mapping vm.MappingID
	stamps  map[int]uint64
}

func (r *Runner) runProcess(ctx context.Context, n int) error {
	w := &worker{
		r:      r,
		id:     n,
		p:      r.mgr.NewProcess(),
		rng:    rand.New(rand.NewPCG(r.cfg.Seed, uint64(n))),
		stamps: make(map[int]uint64),
	}

	err := w.setUp()
	if err == nil {
		err = w.loop(ctx)
	}

	if err == nil {
		err = w.tearDown()
	}

	if exitErr := r.mgr.Exit(w.p); exitErr != nil {
		err = errors.Join(err, exitErr)
	}

	w.closeFiles()

	if err != nil {
		return fmt.Errorf("process %d: %w", w.p.PID(), err)
	}

	return nil
}

func (w *worker) setUp() error {
	cfg := w.r.cfg
	fs := w.r.fs

	w.p.SetStackPointer(vm.PhysBase - uint64(cfg.StackPages)*vm.PageSize)

	if cfg.CodePages > 0 {
		name := fmt.Sprintf("%s.code%d", w.r.name, w.id)
		f, err := w.createFile(name, cfg.CodePages)
		if err != nil {
			return err
		}

		w.code = f

		for i := 0; i < cfg.CodePages; i++ {
			page := pageContent(cfg.Seed, codeTag|stackStream(w.id, 0, i))
			if _, err := fs.WriteAt(f, page, int64(i)*vm.PageSize); err != nil {
				return err
			}
		}

		fs.DenyWrite(f)

		size := uint64(cfg.CodePages) * vm.PageSize
		if err := w.r.mgr.LoadSegment(w.p, f, 0, codeBase, size, 0, false); err != nil {
			return err
		}
	}

	if cfg.MapPages > 0 {
		name := fmt.Sprintf("%s.data%d", w.r.name, w.id)
		f, err := w.createFile(name, cfg.MapPages)
		if err != nil {
			return err
		}

		w.data = f

		w.mapping, err = w.r.mgr.MapFile(w.p, f, mapBase)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *worker) createFile(name string, numPages int) (vm.File, error) {
	if err := w.r.fs.Create(name, int64(numPages)*vm.PageSize); err != nil {
		return nil, err
	}

	return w.r.fs.Open(name)
}

func (w *worker) loop(ctx context.Context) error {
	cfg := w.r.cfg

	for round := 0; round < cfg.Rounds; round++ {
		w.r.waitIfPaused()

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.runRound(round); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		if cfg.ForkEvery > 0 && (round+1)%cfg.ForkEvery == 0 {
			if err := w.fork(round); err != nil {
				return fmt.Errorf("fork in round %d: %w", round, err)
			}
		}

		if w.r.progress != nil {
			w.r.progress.IncrementFinished(1)
		}
	}

	return nil
}

func (w *worker) runRound(round int) error {
	cfg := w.r.cfg
	order := w.rng.Perm(cfg.StackPages)

	for _, i := range order {
		page := pageContent(cfg.Seed, stackStream(w.id, round, i))
		if err := w.p.Write(stackAddr(i), page); err != nil {
			return err
		}

		w.r.written.Add(1)
	}

	for _, i := range order {
		want := pageContent(cfg.Seed, stackStream(w.id, round, i))
		if err := w.verify(w.p, stackAddr(i), want); err != nil {
			return err
		}
	}

	if cfg.CodePages > 0 {
		i := w.rng.IntN(cfg.CodePages)
		want := pageContent(cfg.Seed, codeTag|stackStream(w.id, 0, i))
		if err := w.verify(w.p, codeBase+uint64(i)*vm.PageSize, want); err != nil {
			return err
		}
	}

	if cfg.MapPages > 0 {
		i := w.rng.IntN(cfg.MapPages)
		stamp := stackStream(w.id, round, i) + 1

		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], stamp)
		if err := w.p.Write(mapBase+uint64(i)*vm.PageSize, buf[:]); err != nil {
			return err
		}

		w.stamps[i] = stamp
	}

	return nil
}

// fork checks that a child sees the memory of the parent as of round and
// that a write of the child stays private.
func (w *worker) fork(round int) error {
	cfg := w.r.cfg

	child, err := w.r.mgr.Fork(w.p)
	if err != nil {
		return err
	}

	w.r.forks.Add(1)

	check := func() error {
		for i := 0; i < cfg.StackPages; i++ {
			want := pageContent(cfg.Seed, stackStream(w.id, round, i))
			if err := w.verify(child, stackAddr(i), want); err != nil {
				return err
			}
		}

		if err := child.Write(stackAddr(0), bytes.Repeat([]byte{0xFF}, vm.PageSize)); err != nil {
			return err
		}

		return w.verify(w.p, stackAddr(0),
			pageContent(cfg.Seed, stackStream(w.id, round, 0)))
	}

	err = check()
	if exitErr := w.r.mgr.Exit(child); exitErr != nil {
		err = errors.Join(err, exitErr)
	}

	return err
}

// tearDown unmaps the data file and checks that every stamp reached it.
func (w *worker) tearDown() error {
	if w.data == nil {
		return nil
	}

	if err := w.r.mgr.UnmapFile(w.p, w.mapping); err != nil {
		return err
	}

	for i, stamp := range w.stamps {
		var buf [8]byte
		if _, err := w.r.fs.ReadAt(w.data, buf[:], int64(i)*vm.PageSize); err != nil {
			return err
		}

		if binary.LittleEndian.Uint64(buf[:]) != stamp {
			w.r.corrupted.Add(1)
			w.r.logger.Warn("stamp not written back",
				"pid", w.p.PID(), "page", i)

			continue
		}

		w.r.verified.Add(1)
	}

	return nil
}

func (w *worker) closeFiles() {
	if w.code != nil {
		_ = w.r.fs.Close(w.code)
	}

	if w.data != nil {
		_ = w.r.fs.Close(w.data)
	}
}

func (w *worker) verify(p *vmm.Process, vAddr uint64, want []byte) error {
	got := make([]byte, len(want))
	if err := p.Read(vAddr, got); err != nil {
		return err
	}

	if !bytes.Equal(got, want) {
		w.r.corrupted.Add(1)
		w.r.logger.Warn("page corrupted", "pid", p.PID(), "vaddr", vAddr)

		return nil
	}

	w.r.verified.Add(1)

	return nil
}
