// Package kernel ties the memory manager, scheduler and message bus into
// one kernel instance and provides the interrupt and system call entry
// points.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"hospos/kernel/ipc"
	"hospos/kernel/mem"
	"hospos/kernel/sched"
)

// Banner is printed once every module task is loaded.
const Banner = "Hospital POS System v1.0 Ready\n"

// DefaultTickHz is the timer rate the quantum is expressed in.
const DefaultTickHz = 100

var (
	ErrBooted     = errors.New("kernel already booted")
	ErrNotRunning = errors.New("task is not running")
	ErrSyscall    = errors.New("system call failed")
	ErrNoModule   = errors.New("no such module")
)

// Config sizes the kernel. Zero fields take the package defaults.
type Config struct {
	Mem    mem.Config
	Sched  sched.Config
	IPC    ipc.Config
	TickHz uint32
}

// Kernel is one kernel instance. Interrupts, dispatches and system calls
// are expected on a single goroutine; Status may be read from any.
type Kernel struct {
	cfg     Config
	log     *zap.Logger
	machine Machine
	console Console

	mem   *mem.Manager
	sched *sched.Scheduler
	bus   *ipc.Bus

	ticks    atomic.Uint64
	irqs     [NumIRQ]atomic.Uint64
	spurious atomic.Uint64
	errors   atomic.Uint64
	keys     keyRing

	mailbox  ipc.Handler
	sleepers []sched.TaskID

	booted   bool
	shutdown atomic.Bool
}

// New brings up memory, the scheduler with its idle task and the bus.
// An error here is fatal: the kernel has nothing to run.
func New(cfg Config, machine Machine, console Console, log *zap.Logger) (*Kernel, error) {
	if cfg.TickHz == 0 {
		cfg.TickHz = DefaultTickHz
	}
	if log == nil {
		log = zap.NewNop()
	}
	if machine == nil {
		machine = nopMachine{}
	}
	if console == nil {
		console = nopConsole{}
	}
	k := &Kernel{
		cfg:     cfg,
		log:     log,
		machine: machine,
		console: console,
	}

	m, err := mem.New(cfg.Mem, log.Named("mem"))
	if err != nil {
		return nil, fmt.Errorf("memory manager: %w", err)
	}
	k.mem = m

	k.sched = sched.New(cfg.Sched, m, log.Named("sched"))
	if err := k.sched.Boot(idle); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	k.bus = ipc.New(cfg.IPC, log.Named("ipc"))
	return k, nil
}

// idle halts until the next interrupt.
func idle(sched.TaskID, any) bool { return true }

// TaskSpec describes one module task loaded at boot.
type TaskSpec struct {
	Name     string
	Module   ipc.Module
	Body     Body
	Param    any
	Priority uint32
}

// Boot loads the given tasks in order and prints the banner.
func (k *Kernel) Boot(specs ...TaskSpec) error {
	if k.booted {
		return ErrBooted
	}
	for _, s := range specs {
		if _, err := k.Spawn(s); err != nil {
			return fmt.Errorf("load %s: %w", s.Name, err)
		}
	}
	k.booted = true
	if err := k.kprint(Banner); err != nil {
		return fmt.Errorf("banner: %w", err)
	}
	k.log.Info("kernel ready",
		zap.Int("modules", len(specs)),
		zap.Uint32("tick_hz", k.cfg.TickHz))
	return nil
}

// Spawn creates a task whose body receives its own Context.
func (k *Kernel) Spawn(s TaskSpec) (sched.TaskID, error) {
	if s.Body == nil {
		return 0, sched.ErrNilEntry
	}
	if !s.Module.Valid() {
		return 0, fmt.Errorf("task %s: module %d: %w", s.Name, uint8(s.Module), ErrNoModule)
	}
	c := &Context{k: k, module: s.Module, param: s.Param, body: s.Body}
	id, err := k.sched.CreateTask(s.Name, runContext, c, s.Priority)
	if err != nil {
		if errors.Is(err, mem.ErrOutOfMemory) {
			k.errors.Add(1)
		}
		return 0, err
	}
	t, _ := k.sched.Lookup(id)
	c.id = id
	c.scratch = t.StackBase
	c.log = k.log.With(zap.String("task", t.Name), zap.Stringer("module", s.Module))
	return id, nil
}

func runContext(_ sched.TaskID, p any) bool {
	c := p.(*Context)
	return c.body(c)
}

// kprint prints s through the PRINT call on behalf of the running task,
// restoring its registers afterwards.
func (k *Kernel) kprint(s string) error {
	buf := append([]byte(s), 0)
	addr, err := k.mem.Allocate(uint32(len(buf)), "KERNEL")
	if err != nil {
		return err
	}
	defer func() {
		if err := k.mem.Free(addr); err != nil {
			k.log.Error("release print buffer", zap.Error(err))
		}
	}()
	if _, err := k.mem.WriteAt(buf, addr); err != nil {
		return err
	}

	cpu := k.sched.CPU()
	saved := cpu.Regs
	res := k.trap(SysPrint, addr, 0, 0)
	cpu.Regs = saved
	if res == SysFail {
		return ErrSyscall
	}
	return nil
}

// Step runs one dispatch of the running task. It reports whether any task
// other than idle still wants the processor.
func (k *Kernel) Step() bool {
	if k.sched.Current() == sched.IdleTask && k.sched.Ready() {
		k.sched.Schedule()
	}
	k.sched.Dispatch()
	if k.mailbox != nil && k.bus.TakePending(ipc.ModuleKernel) {
		k.bus.DrainAndDispatch(ipc.ModuleKernel, k.mailbox)
	}
	return k.busy()
}

// HandleMail sets the handler for messages addressed to the kernel. The
// kernel inbox is drained after each dispatch. Without a handler those
// messages stay queued.
func (k *Kernel) HandleMail(h ipc.Handler) { k.mailbox = h }

func (k *Kernel) busy() bool {
	return k.sched.Current() != sched.IdleTask || k.sched.Ready()
}

// Run dispatches tasks until ctx is done, irqs is closed, budget
// dispatches have run (zero means no limit) or every task has exited
// after Shutdown. Interrupts are serviced between dispatches. With only
// the idle task runnable it waits for the next interrupt.
func (k *Kernel) Run(ctx context.Context, irqs <-chan IRQ, budget int) error {
	for steps := 0; budget <= 0 || steps < budget; steps++ {
	drain:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case irq, ok := <-irqs:
				if !ok {
					return nil
				}
				k.Interrupt(irq)
			default:
				break drain
			}
		}

		if k.shutdown.Load() && len(k.sched.Tasks()) == 1 {
			k.log.Info("all modules stopped")
			return nil
		}

		if !k.busy() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case irq, ok := <-irqs:
				if !ok {
					return nil
				}
				k.Interrupt(irq)
			}
		}
		k.Step()
	}
	return nil
}

// Shutdown broadcasts SystemShutdown from the kernel. Modules are expected
// to save their state and exit. It may be called from any goroutine.
func (k *Kernel) Shutdown() {
	if k.shutdown.Swap(true) {
		return
	}
	res := k.bus.Broadcast(k.stamp(ipc.Message{Sender: ipc.ModuleKernel, Payload: ipc.SystemShutdown{}}))
	for mod, r := range res {
		if r != ipc.SendOK {
			k.log.Warn("shutdown not delivered", zap.Stringer("module", mod), zap.Stringer("result", r))
		}
	}
	k.log.Info("shutdown requested")
}

// stamp sets a zero timestamp to the current tick.
func (k *Kernel) stamp(m ipc.Message) ipc.Message {
	if m.Timestamp == 0 {
		m.Timestamp = uint32(k.ticks.Load())
	}
	return m
}

// ShuttingDown reports whether Shutdown has been called.
func (k *Kernel) ShuttingDown() bool { return k.shutdown.Load() }

// Mem, Sched and Bus expose the subsystems for diagnostics and tests.
func (k *Kernel) Mem() *mem.Manager       { return k.mem }
func (k *Kernel) Sched() *sched.Scheduler { return k.sched }
func (k *Kernel) Bus() *ipc.Bus           { return k.bus }

// Ticks counts timer interrupts since boot.
func (k *Kernel) Ticks() uint64       { return k.ticks.Load() }
func (k *Kernel) Logger() *zap.Logger { return k.log }
func (k *Kernel) TickHz() uint32      { return k.cfg.TickHz }
