package workload

import (
	"log/slog"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/vmm"
	"github.com/sarchlab/vmcore/sim"
)

// A Builder can build runners.
type Builder struct {
	mgr      *vmm.Manager
	fs       *filesys.FS
	logger   *slog.Logger
	cfg      Config
	progress Progress
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		logger: slog.Default(),
		cfg:    DefaultConfig(),
	}
}

// WithManager sets the manager the workload runs on.
func (b Builder) WithManager(mgr *vmm.Manager) Builder {
	b.mgr = mgr
	return b
}

// WithFileSystem sets where the program and data files are created. It must
// be the file layer of the manager.
func (b Builder) WithFileSystem(fs *filesys.FS) Builder {
	b.fs = fs
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithConfig sets the workload description.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithProgress sets where finished rounds are reported.
func (b Builder) WithProgress(p Progress) Builder {
	b.progress = p
	return b
}

// Build creates a runner. It returns an error if the configuration is not
// valid.
func (b Builder) Build(name string) (*Runner, error) {
	sim.NameMustBeValid(name)

	if b.mgr == nil || b.fs == nil {
		panic("a workload needs a manager and a file system")
	}

	if err := b.cfg.validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		name:     name,
		mgr:      b.mgr,
		fs:       b.fs,
		logger:   b.logger,
		cfg:      b.cfg,
		progress: b.progress,
	}
	r.gate = sync.NewCond(&r.gateLock)

	return r, nil
}
