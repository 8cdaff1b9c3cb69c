package sched

// Regs is the register file of the logical processor.
type Regs struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI, EBP, ESP uint32
	EFLAGS             uint32
}

const (
	// Words pushed below the stack top by CreateTask: EFLAGS, CS, EIP and
	// seven general registers.
	initialFrameWords = 10
	initialFlags      = 0x202
)

// Trap is a request raised by a running body. It takes effect when the
// current dispatch returns.
type Trap uint8

const (
	TrapNone Trap = iota
	TrapYield
	TrapBlock
	TrapExit
)

// CPU is the single logical processor. Its registers belong to whichever
// task the scheduler last switched in.
type CPU struct {
	Regs

	task  TaskID
	entry Entry
	param any
	trap  Trap
}

// Task returns the task whose context is loaded.
func (c *CPU) Task() TaskID { return c.task }

// Raise records a trap for the end of the current dispatch. A later trap
// of higher value replaces an earlier one.
func (c *CPU) Raise(t Trap) {
	if t > c.trap {
		c.trap = t
	}
}

// savedContext is a suspended execution: the register snapshot plus the
// body to resume. Only the switch primitive reads or writes it.
type savedContext struct {
	regs  Regs
	entry Entry
	param any
}

func newContext(stackTop uint32, entry Entry, param any) savedContext {
	return savedContext{
		regs: Regs{
			ESP:    stackTop - initialFrameWords*4,
			EFLAGS: initialFlags,
		},
		entry: entry,
		param: param,
	}
}

func (c *CPU) save(ctx *savedContext) {
	ctx.regs = c.Regs
}

func (c *CPU) load(id TaskID, ctx *savedContext) {
	c.Regs = ctx.regs
	c.task = id
	c.entry = ctx.entry
	c.param = ctx.param
	c.trap = TrapNone
}
