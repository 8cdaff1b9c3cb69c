package kernel

import (
	"errors"

	"go.uber.org/zap"

	"hospos/kernel/mem"
)

// System call numbers, passed in EAX.
const (
	SysPrint    = 0
	SysRead     = 1
	SysAllocate = 2
	SysFree     = 3
	SysGetTime  = 4
)

// SysFail is returned in EAX by a failed or unknown call.
const SysFail = 0xFFFFFFFF

const (
	maxPrint = 1024
	maxTag   = 32
	// defaultTag owns allocations made without a tag.
	defaultTag = "USER"
)

// Syscall services the call described by the live CPU registers: number
// in EAX, arguments in EBX, ECX and EDX. The result replaces EAX.
func (k *Kernel) Syscall() {
	cpu := k.sched.CPU()
	num, a1, a2 := cpu.EAX, cpu.EBX, cpu.ECX

	switch num {
	case SysPrint:
		s, err := k.mem.CString(a1, maxPrint)
		if err != nil {
			k.log.Warn("print", zap.Uint32("addr", a1), zap.Error(err))
			cpu.EAX = SysFail
			return
		}
		k.console.Print(s)
		cpu.EAX = 0

	case SysRead:
		b, _ := k.keys.pop()
		cpu.EAX = uint32(b)

	case SysAllocate:
		tag := defaultTag
		if a2 != 0 {
			s, err := k.mem.CString(a2, maxTag)
			if err != nil {
				cpu.EAX = 0
				return
			}
			if s != "" {
				tag = s
			}
		}
		addr, err := k.mem.Allocate(a1, tag)
		if err != nil {
			if errors.Is(err, mem.ErrOutOfMemory) {
				k.errors.Add(1)
			}
			k.log.Warn("allocate",
				zap.Uint32("size", a1),
				zap.String("owner", tag),
				zap.Error(err))
			cpu.EAX = 0
			return
		}
		cpu.EAX = addr

	case SysFree:
		if err := k.mem.Free(a1); err != nil {
			k.log.Warn("free", zap.Uint32("addr", a1), zap.Error(err))
			cpu.EAX = SysFail
			return
		}
		cpu.EAX = 0

	case SysGetTime:
		cpu.EAX = uint32(k.ticks.Load())

	default:
		k.log.Warn("unknown syscall", zap.Uint32("num", num))
		cpu.EAX = SysFail
	}
}

// trap loads the call registers and enters the kernel. The previous
// register values are not preserved.
func (k *Kernel) trap(num, a1, a2, a3 uint32) uint32 {
	cpu := k.sched.CPU()
	cpu.EAX, cpu.EBX, cpu.ECX, cpu.EDX = num, a1, a2, a3
	k.Syscall()
	return cpu.EAX
}
