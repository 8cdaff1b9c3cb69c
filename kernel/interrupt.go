package kernel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// IRQ is a hardware interrupt line on the primary controller.
type IRQ uint8

const (
	IRQTimer    IRQ = 0
	IRQKeyboard IRQ = 1

	// NumIRQ is the number of lines on one controller.
	NumIRQ = 8
)

func (i IRQ) String() string {
	switch i {
	case IRQTimer:
		return "timer"
	case IRQKeyboard:
		return "keyboard"
	default:
		return fmt.Sprintf("irq%d", uint8(i))
	}
}

// Machine is the hardware the kernel sits on.
type Machine interface {
	// AckInterrupt signals end of interrupt. Until it is called the
	// controller delivers nothing more on that line.
	AckInterrupt(irq IRQ)
	ReadKeyboardByte() (byte, bool)
	CurrentTick() uint64
}

// Console receives PRINT output.
type Console interface {
	Print(s string)
}

type nopMachine struct{}

func (nopMachine) AckInterrupt(IRQ)               {}
func (nopMachine) ReadKeyboardByte() (byte, bool) { return 0, false }
func (nopMachine) CurrentTick() uint64            { return 0 }

type nopConsole struct{}

func (nopConsole) Print(string) {}

// KeyboardBufferSize is the capacity of the keyboard ring.
const KeyboardBufferSize = 256

// keyRing buffers bytes between the keyboard interrupt and READ.
type keyRing struct {
	mu      sync.Mutex
	buf     [KeyboardBufferSize]byte
	r, w    uint8
	n       int
	dropped uint64
}

func (k *keyRing) push(b byte) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.n == len(k.buf) {
		k.dropped++
		return false
	}
	k.buf[k.w] = b
	k.w++
	k.n++
	return true
}

func (k *keyRing) pop() (byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.n == 0 {
		return 0, false
	}
	b := k.buf[k.r]
	k.r++
	k.n--
	return b, true
}

func (k *keyRing) stats() (buffered int, dropped uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.n, k.dropped
}

// Interrupt services one hardware interrupt. It never blocks and never
// touches the message bus. The line is acknowledged before returning.
func (k *Kernel) Interrupt(irq IRQ) {
	defer k.machine.AckInterrupt(irq)

	if irq >= NumIRQ {
		k.spurious.Add(1)
		k.log.Warn("spurious interrupt", zap.Uint8("irq", uint8(irq)))
		return
	}
	k.irqs[irq].Add(1)

	switch irq {
	case IRQTimer:
		k.ticks.Add(1)
		k.sched.Tick()
		k.wake()
	case IRQKeyboard:
		b, ok := k.machine.ReadKeyboardByte()
		if ok && !k.keys.push(b) {
			k.log.Debug("keyboard buffer full", zap.Uint8("byte", b))
		}
	default:
		k.spurious.Add(1)
		k.log.Warn("unhandled interrupt", zap.Stringer("irq", irq))
	}
}

// wake readies every task sleeping until this tick. Tasks that exited in
// the meantime are skipped.
func (k *Kernel) wake() {
	for _, id := range k.sleepers {
		_ = k.sched.Unblock(id)
	}
	k.sleepers = k.sleepers[:0]
}
