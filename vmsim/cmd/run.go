package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/blockdev"
	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/vmm"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/sim"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/sarchlab/vmcore/workload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a multi-process workload and print statistics.",
	Long: `run builds a core, starts concurrent processes that load a ` +
		`program, grow their stack, map a data file and fork, and checks ` +
		`every page they read back. Events can be recorded into SQLite ` +
		`and the core can be watched in a browser while it runs.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := readRunOptions(cmd)
		if err != nil {
			return err
		}

		if opts.uniqueIDs {
			sim.UseUniqueIDGenerator()
		}

		return run(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.Int("frames", 0, "frames in the user pool (VMSIM_FRAMES, default 64)")
	f.Int("swap-slots", 0, "pages of swap (VMSIM_SWAP_SLOTS, default 1024)")
	f.String("swap-file", "", "keep swap in this file instead of memory (VMSIM_SWAP_FILE)")
	f.Int("processes", 0, "concurrent processes (default 4)")
	f.Int("stack-pages", 0, "stack pages written by each process (default 64)")
	f.Int("code-pages", 0, "pages of the program segment (default 8)")
	f.Int("map-pages", 0, "pages of the mapped data file (default 8)")
	f.Int("rounds", 0, "rounds run by each process (default 4)")
	f.Int("fork-every", 0, "fork after every n rounds, 0 to disable (default 2)")
	f.Int("seed", 0, "seed of the page contents (default 1)")
	f.String("record", "", "record events into this SQLite database (VMSIM_RECORD)")
	f.Bool("unique-ids", false, "give recorded events globally unique IDs (VMSIM_UNIQUE_IDS)")
	f.Bool("trace", false, "log every event at debug level (VMSIM_TRACE)")
	f.Bool("monitor", false, "serve the monitor while running (VMSIM_MONITOR)")
	f.Int("monitor-port", 0, "port of the monitor, random if 0 (VMSIM_MONITOR_PORT)")
	f.Bool("open-browser", false, "open the monitor in a browser")

	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	frames      int
	swapSlots   int
	swapFile    string
	workload    workload.Config
	record      string
	trace       bool
	uniqueIDs   bool
	monitor     bool
	monitorPort int
	openBrowser bool
}

func readRunOptions(cmd *cobra.Command) (runOptions, error) {
	opts := runOptions{
		swapFile: stringOption(cmd, "swap-file", "VMSIM_SWAP_FILE", ""),
		record:   stringOption(cmd, "record", "VMSIM_RECORD", ""),
	}

	def := workload.DefaultConfig()
	ints := []struct {
		flag, env string
		def       int
		dst       *int
	}{
		{"frames", "VMSIM_FRAMES", 64, &opts.frames},
		{"swap-slots", "VMSIM_SWAP_SLOTS", 1024, &opts.swapSlots},
		{"processes", "VMSIM_PROCESSES", def.Processes, &opts.workload.Processes},
		{"stack-pages", "VMSIM_STACK_PAGES", def.StackPages, &opts.workload.StackPages},
		{"code-pages", "VMSIM_CODE_PAGES", def.CodePages, &opts.workload.CodePages},
		{"map-pages", "VMSIM_MAP_PAGES", def.MapPages, &opts.workload.MapPages},
		{"rounds", "VMSIM_ROUNDS", def.Rounds, &opts.workload.Rounds},
		{"fork-every", "VMSIM_FORK_EVERY", def.ForkEvery, &opts.workload.ForkEvery},
		{"monitor-port", "VMSIM_MONITOR_PORT", 0, &opts.monitorPort},
	}

	for _, o := range ints {
		n, err := intOption(cmd, o.flag, o.env, o.def)
		if err != nil {
			return opts, err
		}

		*o.dst = n
	}

	seed, err := intOption(cmd, "seed", "VMSIM_SEED", int(def.Seed))
	if err != nil {
		return opts, err
	}

	opts.workload.Seed = uint64(seed)

	bools := []struct {
		flag, env string
		dst       *bool
	}{
		{"trace", "VMSIM_TRACE", &opts.trace},
		{"unique-ids", "VMSIM_UNIQUE_IDS", &opts.uniqueIDs},
		{"monitor", "VMSIM_MONITOR", &opts.monitor},
		{"open-browser", "VMSIM_OPEN_BROWSER", &opts.openBrowser},
	}

	for _, o := range bools {
		b, err := boolOption(cmd, o.flag, o.env, false)
		if err != nil {
			return opts, err
		}

		*o.dst = b
	}

	if opts.frames == 0 || opts.swapSlots == 0 {
		return opts, errors.New("frames and swap slots must be positive")
	}

	return opts, nil
}

func openSwapDevice(opts runOptions) (vm.BlockDevice, error) {
	sectors := uint64(opts.swapSlots) * vm.PageSize / blockdev.SectorSize
	if opts.swapFile == "" {
		return blockdev.NewMemDevice("Swap", sectors), nil
	}

	dev, err := blockdev.OpenFileDevice(opts.swapFile, sectors)
	if err != nil {
		return nil, err
	}

	atexit.Register(func() { _ = dev.Close() })

	return dev, nil
}

func run(ctx context.Context, opts runOptions, out io.Writer) error {
	logger := slog.Default()

	device, err := openSwapDevice(opts)
	if err != nil {
		return err
	}

	fs := filesys.New()
	mgr := vmm.MakeBuilder().
		WithNumFrames(opts.frames).
		WithSwapDevice(device).
		WithFileSystem(fs).
		WithLogger(logger).
		Build("VM")

	counts := tracing.NewCountTracer(tracing.AllEvents)
	tracers := []tracing.Tracer{counts}

	if opts.trace {
		tracers = append(tracers, tracing.NewLogTracer(logger))
	}

	var dbTracer *tracing.DBTracer
	if opts.record != "" {
		dbTracer = tracing.NewDBTracer(datarecording.New(opts.record),
			tracing.AllEvents)
		tracers = append(tracers, dbTracer)
	}

	for _, d := range mgr.Domains() {
		for _, t := range tracers {
			tracing.CollectTrace(d, t)
		}
	}

	b := workload.MakeBuilder().
		WithManager(mgr).
		WithFileSystem(fs).
		WithLogger(logger).
		WithConfig(opts.workload)

	var monitor *monitoring.Monitor
	if opts.monitor {
		monitor = monitoring.NewMonitor().WithPortNumber(opts.monitorPort)
		monitor.RegisterManager(mgr)

		total := uint64(opts.workload.Processes * opts.workload.Rounds)
		bar := monitor.CreateProgressBar("Workload", total)
		b = b.WithProgress(bar)
	}

	runner, err := b.Build("Workload")
	if err != nil {
		return err
	}

	if monitor != nil {
		monitor.RegisterRunner(runner)

		url := monitor.StartServer()
		if opts.openBrowser {
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("cannot open browser", "url", url, "err", err)
			}
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	report, err := runner.Run(ctx)
	printReport(out, report, counts)

	if dbTracer != nil {
		dbTracer.Flush()
	}

	return err
}

func printReport(out io.Writer, r workload.Report, counts *tracing.CountTracer) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "duration\t%s\n", r.Duration)
	fmt.Fprintf(w, "processes\t%d\n", r.Processes)
	fmt.Fprintf(w, "forks\t%d\n", r.Forks)
	fmt.Fprintf(w, "pages written\t%d\n", r.PagesWritten)
	fmt.Fprintf(w, "pages verified\t%d\n", r.PagesVerified)
	fmt.Fprintf(w, "pages corrupted\t%d\n", r.Corrupted)
	fmt.Fprintf(w, "faults\t%d\n", r.Stats.Faults)
	fmt.Fprintf(w, "frames allocated\t%d\n", r.Stats.Frames.Allocations)
	fmt.Fprintf(w, "evictions\t%d\n", r.Stats.Frames.Evictions)
	fmt.Fprintf(w, "swap outs\t%d\n", r.Stats.Frames.SwapOuts)
	fmt.Fprintf(w, "write-backs\t%d\n", r.Stats.Frames.WriteBacks)
	fmt.Fprintf(w, "drops\t%d\n", r.Stats.Frames.Drops)
	fmt.Fprintf(w, "swap in use\t%d/%d\n", r.Stats.SwapUsed, r.Stats.SwapCapacity)

	for _, k := range counts.Kinds() {
		fmt.Fprintf(w, "event %s\t%d\n", k, counts.Count(k))
	}

	_ = w.Flush()
}
