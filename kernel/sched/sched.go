// Package sched is the preemptive round-robin task scheduler.
//
// The scheduler owns a fixed task table and is the only writer of task
// state. Preemption happens only between dispatches: Tick is called from
// the timer interrupt and bodies request yields or exits through CPU traps.
package sched

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultMaxTasks  = 16
	DefaultStackSize = 4096
	// DefaultQuantum is one second of ticks at 100 Hz.
	DefaultQuantum = 100

	// StackOwner tags stack allocations in the memory manager.
	StackOwner = "TASK_STACK"

	maxNameLen = 31
)

var (
	ErrTableFull  = errors.New("task table full")
	ErrIdleTask   = errors.New("operation not permitted on idle task")
	ErrNotBooted  = errors.New("scheduler not booted")
	ErrBooted     = errors.New("scheduler already booted")
	ErrNoSuchTask = errors.New("no such task")
	ErrNotBlocked = errors.New("task not blocked")
	ErrNilEntry   = errors.New("nil task entry")
)

// Allocator provides task stacks.
type Allocator interface {
	Allocate(size uint32, owner string) (uint32, error)
	Free(addr uint32) error
}

// Config sizes the task table.
type Config struct {
	MaxTasks  int
	StackSize uint32
	Quantum   uint32
}

func (c *Config) setDefaults() {
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.MaxTasks > 256 {
		c.MaxTasks = 256
	}
	if c.StackSize == 0 {
		c.StackSize = DefaultStackSize
	}
	if c.Quantum == 0 {
		c.Quantum = DefaultQuantum
	}
}

// Scheduler owns the task table and the CPU.
type Scheduler struct {
	mu    sync.Mutex
	cfg   Config
	alloc Allocator
	log   *zap.Logger

	tasks    []slot
	current  TaskID
	booted   bool
	switches uint64
	cpu      CPU

	onSwitch func(from, to TaskID)
}

// New creates a scheduler whose task table is all TERMINATED slots.
func New(cfg Config, alloc Allocator, log *zap.Logger) *Scheduler {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:   cfg,
		alloc: alloc,
		log:   log,
		tasks: make([]slot, cfg.MaxTasks),
	}
}

// Boot creates the idle task in slot 0 and makes it RUNNING.
// A kernel cannot run without it, so callers treat failure as fatal.
func (s *Scheduler) Boot(idle Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.booted {
		return ErrBooted
	}
	id, err := s.createLocked("IDLE", idle, nil, 0)
	if err != nil {
		return fmt.Errorf("create idle task: %w", err)
	}
	if id != IdleTask {
		return fmt.Errorf("idle task landed in slot %d", id)
	}
	s.booted = true
	s.current = IdleTask
	t := &s.tasks[IdleTask]
	t.state = Running
	s.cpu.load(IdleTask, &t.ctx)
	return nil
}

// CreateTask places a new READY task in the first free slot.
func (s *Scheduler) CreateTask(name string, entry Entry, param any, priority uint32) (TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return 0, ErrNotBooted
	}
	return s.createLocked(name, entry, param, priority)
}

func (s *Scheduler) createLocked(name string, entry Entry, param any, priority uint32) (TaskID, error) {
	if entry == nil {
		return 0, ErrNilEntry
	}
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.state != Terminated {
			continue
		}
		base, err := s.alloc.Allocate(s.cfg.StackSize, StackOwner)
		if err != nil {
			return 0, fmt.Errorf("stack for task %q: %w", name, err)
		}
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
		*t = slot{
			name:      name,
			state:     Ready,
			priority:  priority,
			slice:     s.cfg.Quantum,
			stackBase: base,
			ctx:       newContext(base+s.cfg.StackSize, entry, param),
		}
		s.log.Info("task created",
			zap.Uint8("id", uint8(i)),
			zap.String("name", name),
			zap.Uint32("priority", priority),
			zap.Uint32("stack", base))
		return TaskID(i), nil
	}
	return 0, ErrTableFull
}

// Schedule switches to the next READY task in round-robin order.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return
	}
	s.scheduleLocked()
}

func (s *Scheduler) scheduleLocked() {
	cur := int(s.current)
	n := len(s.tasks)
	next := -1
	for i := 1; i <= n; i++ {
		id := (cur + i) % n
		if TaskID(id) == IdleTask {
			continue
		}
		if s.tasks[id].state == Ready {
			next = id
			break
		}
	}
	if next < 0 {
		if s.tasks[cur].state == Running {
			return
		}
		next = int(IdleTask)
	}
	s.switchLocked(TaskID(next))
}

// switchLocked is the context transfer primitive.
func (s *Scheduler) switchLocked(next TaskID) {
	prev := s.current
	out := &s.tasks[prev]
	if out.state != Terminated {
		s.cpu.save(&out.ctx)
	}
	if out.state == Running {
		out.state = Ready
	}

	in := &s.tasks[next]
	in.state = Running
	s.cpu.load(next, &in.ctx)
	s.current = next
	s.switches++

	s.log.Debug("context switch",
		zap.Uint8("from", uint8(prev)),
		zap.Uint8("to", uint8(next)),
		zap.String("task", in.name))
	if s.onSwitch != nil {
		s.onSwitch(prev, next)
	}
}

// Tick accounts one timer tick to the running task and preempts it when
// its slice runs out.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return
	}
	t := &s.tasks[s.current]
	if t.state != Running {
		return
	}
	t.cpuTime++
	if t.slice > 0 {
		t.slice--
	}
	if t.slice == 0 {
		t.slice = s.cfg.Quantum
		s.scheduleLocked()
	}
}

// Yield gives up the rest of the running task's slice.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return
	}
	s.yieldLocked()
}

func (s *Scheduler) yieldLocked() {
	s.tasks[s.current].slice = s.cfg.Quantum
	s.scheduleLocked()
}

// TerminateCurrent ends the running task, releases its stack and
// schedules a successor.
func (s *Scheduler) TerminateCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return ErrNotBooted
	}
	return s.terminateLocked()
}

func (s *Scheduler) terminateLocked() error {
	if s.current == IdleTask {
		return ErrIdleTask
	}
	t := &s.tasks[s.current]
	s.log.Info("task terminated",
		zap.Uint8("id", uint8(s.current)),
		zap.String("name", t.name),
		zap.Uint64("cpu_ticks", t.cpuTime))
	if err := s.alloc.Free(t.stackBase); err != nil {
		s.log.Error("release task stack", zap.Uint8("id", uint8(s.current)), zap.Error(err))
	}
	*t = slot{state: Terminated}
	s.scheduleLocked()
	return nil
}

// Block moves the running task to BLOCKED until Unblock.
func (s *Scheduler) Block() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return ErrNotBooted
	}
	return s.blockLocked()
}

func (s *Scheduler) blockLocked() error {
	if s.current == IdleTask {
		return ErrIdleTask
	}
	s.tasks[s.current].state = Blocked
	s.scheduleLocked()
	return nil
}

// Unblock makes a BLOCKED task READY again.
func (s *Scheduler) Unblock(id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.tasks) {
		return ErrNoSuchTask
	}
	t := &s.tasks[id]
	if t.state != Blocked {
		return fmt.Errorf("unblock task %d (%s): %w", id, t.state, ErrNotBlocked)
	}
	t.state = Ready
	return nil
}

// Dispatch runs one pass of the current task's body, then applies any
// trap it raised. A body returning false exits.
func (s *Scheduler) Dispatch() {
	s.mu.Lock()
	if !s.booted {
		s.mu.Unlock()
		return
	}
	id := s.current
	entry, param := s.cpu.entry, s.cpu.param
	s.cpu.trap = TrapNone
	s.mu.Unlock()

	alive := entry(id, param)

	s.mu.Lock()
	defer s.mu.Unlock()
	trap := s.cpu.trap
	s.cpu.trap = TrapNone
	if s.current != id {
		return
	}
	if !alive {
		trap = TrapExit
	}
	var err error
	switch trap {
	case TrapYield:
		s.yieldLocked()
	case TrapBlock:
		err = s.blockLocked()
	case TrapExit:
		err = s.terminateLocked()
	}
	if err != nil {
		s.log.Warn("trap ignored", zap.Uint8("id", uint8(id)), zap.Error(err))
	}
}

// CPU returns the logical processor. Only the kernel's syscall layer and
// running bodies touch its registers.
func (s *Scheduler) CPU() *CPU { return &s.cpu }

// Current returns the running task.
func (s *Scheduler) Current() TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Lookup returns a snapshot of one slot.
func (s *Scheduler) Lookup(id TaskID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.tasks) || s.tasks[id].state == Terminated {
		return Task{}, false
	}
	return s.tasks[id].snapshot(id), true
}

// Tasks returns snapshots of every live slot.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for i := range s.tasks {
		if s.tasks[i].state == Terminated {
			continue
		}
		out = append(out, s.tasks[i].snapshot(TaskID(i)))
	}
	return out
}

// Ready reports whether any task other than idle is READY.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if TaskID(i) != IdleTask && s.tasks[i].state == Ready {
			return true
		}
	}
	return false
}

// Switches returns the number of context switches so far.
func (s *Scheduler) Switches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// Capacity returns the size of the task table.
func (s *Scheduler) Capacity() int { return len(s.tasks) }

// OnSwitch installs an observer called on every context switch with the
// scheduler lock held. It must not call back into the scheduler.
func (s *Scheduler) OnSwitch(fn func(from, to TaskID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwitch = fn
}
