package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hospos/app"
	"hospos/hal"
	"hospos/internal/config"
	"hospos/internal/logging"
)

// drainTimeout bounds how long the modules get to save after a stop.
const drainTimeout = 5 * time.Second

// RunOptions holds flags for the run command. Flags left unset keep the
// config file value.
type RunOptions struct {
	*RootOptions
	Headless   bool
	Loop       bool
	Ticks      uint64
	Hz         int
	StepBudget int
	Storage    string
	RawTerm    bool
	CheckIn    uint32
	NoReport   bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel and run the hospital modules",
		Long: `Boot the kernel and run the hospital modules until they shut down.

Keys typed at the reception console: c check in, p appointment,
e wheelchair request, a alert, q shut down.

Example:
  hospos run --headless --raw-term
  hospos run --headless --ticks 600 --storage ./hospos.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runSystem(cmd, opts, cfg)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.Headless, "headless", true, "run without a window")
	f.BoolVar(&opts.Loop, "loop", false, "run the kernel dispatch loop directly (headless only)")
	f.Uint64Var(&opts.Ticks, "ticks", 0, "shut down after N host steps (0 = run until q)")
	f.IntVar(&opts.Hz, "hz", 0, "host step rate")
	f.IntVar(&opts.StepBudget, "step-budget", 0, "dispatches per host step")
	f.StringVar(&opts.Storage, "storage", "", "SQLite file for saved module state")
	f.BoolVar(&opts.RawTerm, "raw-term", false, "put the terminal in raw mode so keys arrive unbuffered")
	f.Uint32Var(&opts.CheckIn, "check-in-every", 0, "check in a walk-in patient every N kernel ticks")
	f.BoolVar(&opts.NoReport, "no-report", false, "skip the summary printed at exit")

	return cmd
}

// load reads the config file and applies the flags that were set.
func (o *RunOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("headless") {
		cfg.Host.Headless = o.Headless
	}
	if f.Changed("loop") {
		cfg.Host.Loop = o.Loop
	}
	if f.Changed("ticks") {
		cfg.Host.Ticks = o.Ticks
	}
	if f.Changed("hz") {
		cfg.Host.Hz = o.Hz
	}
	if f.Changed("step-budget") {
		cfg.Host.StepBudget = o.StepBudget
	}
	if f.Changed("storage") {
		cfg.Host.StoragePath = o.Storage
	}
	if f.Changed("raw-term") {
		cfg.Host.RawTerm = o.RawTerm
	}
	if f.Changed("check-in-every") {
		cfg.Host.CheckInEvery = o.CheckIn
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSystem(cmd *cobra.Command, opts *RunOptions, cfg *config.Config) error {
	host, err := hal.New(hal.Config{
		Hz:          int(cfg.Kernel.TickHz),
		StoragePath: cfg.Host.StoragePath,
		Echo:        cmd.OutOrStdout(),
		Log:         cmd.ErrOrStderr(),
		Framebuffer: !cfg.Host.Headless,
	})
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	defer host.Close()

	log, err := logging.New(host.Logger(), logging.Options{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sys, err := app.New(host, app.Config{
		Kernel:       cfg.KernelSettings(),
		StepBudget:   cfg.Host.StepBudget,
		CheckInEvery: cfg.Host.CheckInEvery,
	}, log)
	if err != nil {
		return err
	}

	input := cmd.InOrStdin()
	if cfg.Host.RawTerm {
		restore := makeRaw(input, log)
		defer restore()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := onSignal(ctx, sys, cancel, log)
	defer stop()

	switch {
	case !cfg.Host.Headless:
		err = hal.RunWindow(host, sys.Step)
	case cfg.Host.Loop:
		err = sys.Run(ctx, host, hal.ServeConfig{Hz: int(cfg.Kernel.TickHz), Input: input})
	default:
		err = hal.RunHeadless(ctx, host, sys.Step, hal.HeadlessConfig{
			Hz:    cfg.Host.Hz,
			Ticks: cfg.Host.Ticks,
			Input: input,
		})
		if err == nil && !sys.Halted() {
			err = drain(ctx, host, sys, cfg.Host.Hz)
		}
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		err = sys.Err()
	}

	if !opts.NoReport {
		fmt.Fprint(cmd.ErrOrStderr(), renderReport(sys.Report(), err))
	}
	return err
}

// drain shuts the modules down after the step limit and keeps stepping
// until they have saved.
func drain(ctx context.Context, host *hal.Host, sys *app.System, hz int) error {
	sys.Shutdown()
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	err := hal.RunHeadless(ctx, host, sys.Step, hal.HeadlessConfig{Hz: hz})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("modules did not stop within %s", drainTimeout)
	}
	return err
}

// onSignal starts a shutdown on the first interrupt and cancels ctx on
// the second one or when the drain timeout passes.
func onSignal(ctx context.Context, sys *app.System, cancel context.CancelFunc, log *zap.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case sig := <-sigs:
			log.Info("signal received, shutting down", zap.Stringer("signal", sig))
			sys.Shutdown()
		}
		t := time.NewTimer(drainTimeout)
		defer t.Stop()
		select {
		case <-done:
		case <-ctx.Done():
		case <-sigs:
			cancel()
		case <-t.C:
			log.Warn("shutdown timed out")
			cancel()
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// makeRaw switches r to raw mode when it is a terminal.
func makeRaw(r io.Reader, log *zap.Logger) func() {
	f, ok := r.(*os.File)
	if !ok {
		return func() {}
	}
	restore, err := hal.MakeRaw(int(f.Fd()))
	if err != nil {
		log.Debug("raw terminal unavailable", zap.Error(err))
		return func() {}
	}
	return func() {
		if err := restore(); err != nil {
			log.Warn("restore terminal", zap.Error(err))
		}
	}
}
