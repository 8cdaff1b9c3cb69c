package app

import (
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

// panicked reports a panic from a task body on the console and the log,
// then halts the system.
func (s *System) panicked(v any) error {
	task := s.k.Sched().Current()
	name := "?"
	if t, ok := s.k.Sched().Lookup(task); ok {
		name = t.Name
	}
	stack := debug.Stack()

	s.log.Error("task panic",
		zap.Uint8("task", uint8(task)),
		zap.String("name", name),
		zap.Any("panic", v))
	if l := s.h.Logger(); l != nil {
		for _, line := range strings.Split(string(stack), "\n") {
			if line == "" {
				continue
			}
			l.WriteLineString(line)
		}
	}
	if con := s.h.Console(); con != nil {
		con.Print(fmt.Sprintf("\n*** KERNEL PANIC in task %d (%s): %v\n*** System halted.\n", task, name, v))
	}

	err := fmt.Errorf("%w: task %d (%s): %v", ErrPanic, task, name, v)
	s.halt(err)
	return err
}
