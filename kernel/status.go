package kernel

import (
	"hospos/kernel/ipc"
	"hospos/kernel/sched"
)

// Status is a point-in-time view of the kernel for diagnostics.
type Status struct {
	Ticks        uint64
	MachineTicks uint64
	Uptime       uint64 // seconds
	MemUsed      uint32
	MemTotal     uint32
	Blocks       int
	Current      sched.TaskID
	Switches     uint64
	Tasks        []sched.Task
	Queues       [ipc.ModuleCount]int
	Bus          ipc.Stats
	Interrupts   [NumIRQ]uint64
	Spurious     uint64
	KeysBuffered int
	KeysDropped  uint64
	// Errors counts out-of-memory failures, rejected sends on full queues
	// and records dropped at receive.
	Errors       uint64
	ShuttingDown bool
}

// Status collects the counters. Safe from any goroutine.
func (k *Kernel) Status() Status {
	st := Status{
		Ticks:        k.ticks.Load(),
		MachineTicks: k.machine.CurrentTick(),
		Blocks:       len(k.mem.Blocks()),
		Current:      k.sched.Current(),
		Switches:     k.sched.Switches(),
		Tasks:        k.sched.Tasks(),
		Bus:          k.bus.Stats(),
		Spurious:     k.spurious.Load(),
		ShuttingDown: k.shutdown.Load(),
	}
	st.Uptime = st.Ticks / uint64(k.cfg.TickHz)
	st.MemUsed, st.MemTotal = k.mem.Usage()
	for _, mod := range ipc.Modules() {
		st.Queues[mod] = k.bus.Len(mod)
	}
	for i := range k.irqs {
		st.Interrupts[i] = k.irqs[i].Load()
	}
	st.KeysBuffered, st.KeysDropped = k.keys.stats()
	st.Errors = k.errors.Load() + st.Bus.QueueFull + st.Bus.ChecksumErrors + st.Bus.Malformed
	return st
}
