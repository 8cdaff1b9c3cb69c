package kernel

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"hospos/kernel/ipc"
	"hospos/kernel/sched"
)

// Body is one dispatch of a module task. Returning false ends the task.
type Body func(c *Context) bool

// scratchSize is the area at the bottom of each task stack used to pass
// strings to system calls.
const scratchSize = 256

// Context is the task side of the kernel: system calls through the
// register ABI plus the task's mailbox on the bus.
//
// System call methods only work while the task is running, which is
// always the case inside its Body.
type Context struct {
	k       *Kernel
	id      sched.TaskID
	module  ipc.Module
	param   any
	body    Body
	scratch uint32
	log     *zap.Logger
}

// TaskID, Module, Param and Logger describe the task the context belongs to.
func (c *Context) TaskID() sched.TaskID { return c.id }
func (c *Context) Module() ipc.Module   { return c.module }
func (c *Context) Param() any           { return c.param }
func (c *Context) Logger() *zap.Logger  { return c.log }

func (c *Context) running() bool {
	return c.k.sched.Current() == c.id
}

// stage copies s NUL-terminated into the scratch area.
func (c *Context) stage(s string) (uint32, error) {
	if len(s) >= scratchSize {
		s = s[:scratchSize-1]
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	if _, err := c.k.mem.WriteAt(buf, c.scratch); err != nil {
		return 0, err
	}
	return c.scratch, nil
}

// Print writes s to the console through PRINT. Long strings go out in
// scratch-sized pieces.
func (c *Context) Print(s string) error {
	if !c.running() {
		return ErrNotRunning
	}
	for len(s) > 0 {
		n := len(s)
		if n > scratchSize-1 {
			n = scratchSize - 1
		}
		addr, err := c.stage(s[:n])
		if err != nil {
			return fmt.Errorf("print: %w", err)
		}
		if c.k.trap(SysPrint, addr, 0, 0) == SysFail {
			return fmt.Errorf("print: %w", ErrSyscall)
		}
		s = s[n:]
	}
	return nil
}

// Printf formats and prints through PRINT.
func (c *Context) Printf(format string, args ...any) error {
	return c.Print(fmt.Sprintf(format, args...))
}

// ReadKey takes one byte from the keyboard buffer. READ has no empty
// indicator, so a NUL byte reads as no input.
func (c *Context) ReadKey() (byte, bool) {
	if !c.running() {
		return 0, false
	}
	b := byte(c.k.trap(SysRead, 0, 0, 0))
	return b, b != 0
}

// Alloc reserves size bytes owned by tag.
func (c *Context) Alloc(size uint32, tag string) (uint32, error) {
	if !c.running() {
		return 0, ErrNotRunning
	}
	var tagAddr uint32
	if tag != "" {
		var err error
		if tagAddr, err = c.stage(tag); err != nil {
			return 0, fmt.Errorf("allocate: %w", err)
		}
	}
	addr := c.k.trap(SysAllocate, size, tagAddr, 0)
	if addr == 0 {
		return 0, fmt.Errorf("allocate %d bytes for %q: %w", size, tag, ErrSyscall)
	}
	return addr, nil
}

// Free releases a block returned by Alloc through FREE.
func (c *Context) Free(addr uint32) error {
	if !c.running() {
		return ErrNotRunning
	}
	if c.k.trap(SysFree, addr, 0, 0) == SysFail {
		return fmt.Errorf("free %#x: %w", addr, ErrSyscall)
	}
	return nil
}

// Now returns the tick count from GET_TIME.
func (c *Context) Now() uint32 {
	if !c.running() {
		return uint32(c.k.ticks.Load())
	}
	return c.k.trap(SysGetTime, 0, 0, 0)
}

// Poke writes p into memory at addr. Nothing checks ownership.
func (c *Context) Poke(addr uint32, p []byte) error {
	_, err := c.k.mem.WriteAt(p, addr)
	return err
}

// PeekMem reads n bytes of memory at addr.
func (c *Context) PeekMem(addr uint32, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.k.mem.ReadAt(buf, addr)
	return buf[:got], err
}

// Send queues p for dst with this task's module as sender.
func (c *Context) Send(dst ipc.Module, p ipc.Payload) (uint32, ipc.SendResult) {
	return c.SendMessage(dst, ipc.Message{Payload: p})
}

// Request is Send with an acknowledgment requested.
func (c *Context) Request(dst ipc.Module, p ipc.Payload) (uint32, ipc.SendResult) {
	return c.SendMessage(dst, ipc.Message{Payload: p, RequiresAck: true})
}

// SendMessage sends m from this task's module. A zero timestamp is set
// to the current tick.
func (c *Context) SendMessage(dst ipc.Module, m ipc.Message) (uint32, ipc.SendResult) {
	m.Sender = c.module
	id, res := c.k.bus.Send(dst, c.k.stamp(m))
	if res != ipc.SendOK {
		c.log.Warn("send failed",
			zap.Stringer("to", dst),
			zap.Stringer("type", m.Type()),
			zap.Stringer("result", res))
	}
	return id, res
}

// Broadcast sends p to every other module.
func (c *Context) Broadcast(p ipc.Payload) map[ipc.Module]ipc.SendResult {
	return c.k.bus.Broadcast(c.k.stamp(ipc.Message{Sender: c.module, Payload: p}))
}

// Receive and Peek read this module's inbox.
func (c *Context) Receive() (ipc.Message, ipc.RecvResult) { return c.k.bus.Receive(c.module) }
func (c *Context) Peek() (ipc.Message, ipc.RecvResult)    { return c.k.bus.Peek(c.module) }

// Pending reads and clears the module's pending indicator.
func (c *Context) Pending() bool { return c.k.bus.TakePending(c.module) }

// Drain dispatches every queued message to h.
func (c *Context) Drain(h ipc.Handler) int { return c.k.bus.DrainAndDispatch(c.module, h) }

// Yield ends this task's turn when the current dispatch returns.
func (c *Context) Yield() { c.k.sched.CPU().Raise(sched.TrapYield) }

// Sleep blocks the task until the next timer tick once the current
// dispatch returns. Calling it again in the same dispatch has no effect.
func (c *Context) Sleep() {
	if !slices.Contains(c.k.sleepers, c.id) {
		c.k.sleepers = append(c.k.sleepers, c.id)
	}
	c.k.sched.CPU().Raise(sched.TrapBlock)
}

// Exit ends the task when the current dispatch returns.
func (c *Context) Exit() { c.k.sched.CPU().Raise(sched.TrapExit) }

// Shutdown asks every module to save its state and exit.
func (c *Context) Shutdown() { c.k.Shutdown() }
