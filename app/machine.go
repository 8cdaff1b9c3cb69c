package app

import (
	"hospos/hal"
	"hospos/kernel"
)

// machine presents the HAL devices to the kernel.
type machine struct {
	pic *hal.PIC
	kbd hal.Keyboard
	t   hal.Time
}

// AckInterrupt sends end-of-interrupt. A line is raised again while its
// device has more to deliver: the keyboard while the controller still
// holds bytes, the timer while ticks are owed.
func (m *machine) AckInterrupt(irq kernel.IRQ) {
	m.pic.Ack(uint8(irq))
	switch irq {
	case kernel.IRQTimer:
		if m.t.TakeTick() {
			m.pic.Raise(hal.LineTimer)
		}
	case kernel.IRQKeyboard:
		if m.kbd.Buffered() > 0 {
			m.pic.Raise(hal.LineKeyboard)
		}
	}
}

func (m *machine) ReadKeyboardByte() (byte, bool) { return m.kbd.ReadKey() }

func (m *machine) CurrentTick() uint64 { return m.t.Now() }
