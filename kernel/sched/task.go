package sched

// State is the lifecycle state of a task slot.
type State uint8

const (
	// Terminated is first so a zeroed table is all free slots.
	Terminated State = iota
	Ready
	Running
	Blocked
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// TaskID is the task table slot index.
type TaskID uint8

// IdleTask is the slot reserved for the idle task at boot.
const IdleTask TaskID = 0

// Entry is a task body. Each dispatch runs one pass of it; returning false
// ends the task.
type Entry func(id TaskID, param any) bool

// Task is a read-only snapshot of a task table entry.
type Task struct {
	ID        TaskID
	Name      string
	State     State
	Priority  uint32
	Slice     uint32
	CPUTime   uint64
	StackBase uint32
}

type slot struct {
	name      string
	state     State
	priority  uint32
	slice     uint32
	cpuTime   uint64
	stackBase uint32
	ctx       savedContext
}

func (s *slot) snapshot(id TaskID) Task {
	return Task{
		ID:        id,
		Name:      s.name,
		State:     s.state,
		Priority:  s.priority,
		Slice:     s.slice,
		CPUTime:   s.cpuTime,
		StackBase: s.stackBase,
	}
}
