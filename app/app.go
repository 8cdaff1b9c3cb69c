// Package app boots the kernel with the hospital modules on top of a HAL.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hospos/hal"
	"hospos/kernel"
	"hospos/kernel/ipc"
	"hospos/tasks"
)

// DefaultStepBudget is the number of dispatches per host step.
const DefaultStepBudget = 8

// Config selects the kernel sizing and the host step behavior.
type Config struct {
	Kernel     kernel.Config
	StepBudget int
	// CheckInEvery is passed to reception; see tasks.Options.
	CheckInEvery uint32
	// Extra tasks are loaded after the modules.
	Extra []kernel.TaskSpec
}

// System is a booted kernel wired to a HAL.
type System struct {
	h      hal.HAL
	k      *kernel.Kernel
	log    *zap.Logger
	budget int

	mu     sync.Mutex
	saved  map[string]uint32
	alerts []string
	halted bool
	err    error
}

// New brings the kernel up on h and loads the module tasks.
func New(h hal.HAL, cfg Config, log *zap.Logger) (*System, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = DefaultStepBudget
	}
	m := &machine{pic: h.PIC(), kbd: h.Keyboard(), t: h.Time()}
	k, err := kernel.New(cfg.Kernel, m, h.Console(), log.Named("kernel"))
	if err != nil {
		return nil, fmt.Errorf("kernel init: %w", err)
	}
	s := &System{
		h:      h,
		k:      k,
		log:    log,
		budget: cfg.StepBudget,
		saved:  make(map[string]uint32),
	}
	k.HandleMail(ipc.NewMux().
		RouteFunc(ipc.TypeDataSync, s.onDataSync).
		RouteFunc(ipc.TypeAlert, s.onAlert))

	specs := tasks.Specs(tasks.Options{Store: h.Storage(), CheckInEvery: cfg.CheckInEvery})
	specs = append(specs, cfg.Extra...)
	if err := k.Boot(specs...); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	return s, nil
}

func (s *System) onDataSync(m ipc.Message) {
	d := m.Payload.(ipc.DataSync)
	s.mu.Lock()
	s.saved[d.Table] = d.Records
	s.mu.Unlock()
	s.log.Info("module state saved", zap.String("module", d.Table), zap.Uint32("records", d.Records))
}

func (s *System) onAlert(m ipc.Message) {
	a := m.Payload.(ipc.Alert)
	s.mu.Lock()
	s.alerts = append(s.alerts, a.Text)
	s.mu.Unlock()
	s.log.Warn("alert", zap.Stringer("from", m.Sender), zap.String("text", a.Text))
}

// service delivers every interrupt the PIC has latched.
func (s *System) service() {
	pic := s.h.PIC()
	for {
		line, ok := pic.Next()
		if !ok {
			return
		}
		s.k.Interrupt(kernel.IRQ(line))
	}
}

// Step services interrupts and runs up to the step budget of dispatches.
// It returns hal.ErrHalt once every module has stopped after shutdown.
func (s *System) Step() (err error) {
	if s.Halted() {
		return hal.ErrHalt
	}
	defer func() {
		if v := recover(); v != nil {
			err = s.panicked(v)
		}
	}()

	for i := 0; i < s.budget; i++ {
		s.service()
		if !s.k.Step() {
			break
		}
	}
	if s.k.ShuttingDown() && len(s.k.Sched().Tasks()) == 1 {
		s.halt(nil)
		return hal.ErrHalt
	}
	return nil
}

// Run hands control to the kernel's own loop, fed by the host devices,
// until every module has stopped or ctx is done.
func (s *System) Run(ctx context.Context, h *hal.Host, cfg hal.ServeConfig) error {
	irqs := make(chan kernel.IRQ, hal.NumLines)
	deliver := func(ctx context.Context, line uint8) error {
		select {
		case irqs <- kernel.IRQ(line):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := func(ctx context.Context) (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = s.panicked(v)
			}
		}()
		if err := s.k.Run(ctx, irqs, 0); err != nil {
			return err
		}
		s.halt(nil)
		return nil
	}
	return hal.Serve(ctx, h, cfg, deliver, run)
}

// Shutdown asks the modules to save and exit. Safe from any goroutine.
func (s *System) Shutdown() { s.k.Shutdown() }

func (s *System) halt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.err = err
	s.log.Info("system halted", zap.Uint64("ticks", s.k.Ticks()))
}

// Halted reports whether the system stopped, cleanly or after a panic.
func (s *System) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Err is the fault that halted the system, if any.
func (s *System) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *System) Kernel() *kernel.Kernel { return s.k }

// Report is the end-of-run summary.
type Report struct {
	kernel.Status
	Saved  map[string]uint32
	Alerts []string
}

func (s *System) Report() Report {
	r := Report{Status: s.k.Status(), Saved: make(map[string]uint32)}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.saved {
		r.Saved[k] = v
	}
	r.Alerts = append(r.Alerts, s.alerts...)
	return r
}

// ErrPanic wraps a panic raised by a task body.
var ErrPanic = errors.New("kernel panic")
