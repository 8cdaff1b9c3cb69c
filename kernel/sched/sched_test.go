package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospos/kernel/mem"
)

func idle(TaskID, any) bool { return true }

func newBooted(t *testing.T, cfg Config) (*Scheduler, *mem.Manager) {
	t.Helper()
	m, err := mem.New(mem.Config{Size: 256 * 1024}, nil)
	require.NoError(t, err)
	s := New(cfg, m, nil)
	require.NoError(t, s.Boot(idle))
	return s, m
}

func mustCreate(t *testing.T, s *Scheduler, name string, entry Entry) TaskID {
	t.Helper()
	if entry == nil {
		entry = idle
	}
	id, err := s.CreateTask(name, entry, nil, 1)
	require.NoError(t, err)
	return id
}

func recordSwitches(s *Scheduler) *[]TaskID {
	var order []TaskID
	s.OnSwitch(func(_, to TaskID) { order = append(order, to) })
	return &order
}

func TestBootRunsIdle(t *testing.T) {
	s, m := newBooted(t, Config{})

	assert.Equal(t, IdleTask, s.Current())
	task, ok := s.Lookup(IdleTask)
	require.True(t, ok)
	assert.Equal(t, "IDLE", task.Name)
	assert.Equal(t, Running, task.State)

	used, _ := m.Usage()
	assert.Equal(t, uint32(DefaultStackSize), used)
	assert.ErrorIs(t, s.Boot(idle), ErrBooted)
}

func TestCreateTaskBeforeBoot(t *testing.T) {
	m, err := mem.New(mem.Config{}, nil)
	require.NoError(t, err)
	s := New(Config{}, m, nil)
	_, err = s.CreateTask("A", idle, nil, 1)
	assert.ErrorIs(t, err, ErrNotBooted)
}

func TestCreateTaskInitialState(t *testing.T) {
	s, _ := newBooted(t, Config{Quantum: 7})
	id, err := s.CreateTask("DOCTOR", idle, "param", 3)
	require.NoError(t, err)
	assert.Equal(t, TaskID(1), id)

	task, ok := s.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, Ready, task.State)
	assert.Equal(t, uint32(7), task.Slice)
	assert.Equal(t, uint32(3), task.Priority)
	assert.Zero(t, task.CPUTime)

	ctx := s.tasks[id].ctx
	assert.Equal(t, task.StackBase+DefaultStackSize-initialFrameWords*4, ctx.regs.ESP)
	assert.Equal(t, uint32(initialFlags), ctx.regs.EFLAGS)
	assert.Equal(t, "param", ctx.param)
}

func TestCreateTaskTableFull(t *testing.T) {
	s, _ := newBooted(t, Config{MaxTasks: 3})
	mustCreate(t, s, "A", nil)
	mustCreate(t, s, "B", nil)
	_, err := s.CreateTask("C", idle, nil, 1)
	assert.ErrorIs(t, err, ErrTableFull)

	_, err = s.CreateTask("nil", nil, nil, 1)
	assert.ErrorIs(t, err, ErrNilEntry)
}

func TestCreateTaskOutOfMemory(t *testing.T) {
	m, err := mem.New(mem.Config{Size: 2 * DefaultStackSize}, nil)
	require.NoError(t, err)
	s := New(Config{}, m, nil)
	require.NoError(t, s.Boot(idle))
	mustCreate(t, s, "A", nil)

	_, err = s.CreateTask("B", idle, nil, 1)
	assert.ErrorIs(t, err, mem.ErrOutOfMemory)
	assert.Len(t, s.Tasks(), 2)
}

func TestRoundRobinOrderAndAccounting(t *testing.T) {
	const quantum = 5
	s, _ := newBooted(t, Config{Quantum: quantum})
	a := mustCreate(t, s, "A", nil)
	b := mustCreate(t, s, "B", nil)
	c := mustCreate(t, s, "C", nil)
	order := recordSwitches(s)

	s.Schedule()
	require.Equal(t, a, s.Current())

	for i := 0; i < 3*quantum; i++ {
		s.Tick()
	}

	for _, id := range []TaskID{a, b, c} {
		task, ok := s.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, uint64(quantum), task.CPUTime, "task %s", task.Name)
	}
	idleTask, _ := s.Lookup(IdleTask)
	assert.Zero(t, idleTask.CPUTime)

	for i := 0; i < 3*quantum; i++ {
		s.Tick()
	}
	assert.Equal(t, []TaskID{a, b, c, a, b, c, a}, *order)
}

func TestScheduleVisitsEveryReadyTaskOnce(t *testing.T) {
	const n = 6
	for start := 0; start < n; start++ {
		s, _ := newBooted(t, Config{MaxTasks: n + 1})
		for i := 0; i < n; i++ {
			mustCreate(t, s, string(rune('A'+i)), nil)
		}
		for i := 0; i <= start; i++ {
			s.Schedule()
		}
		first := s.Current()
		order := recordSwitches(s)

		for i := 0; i < n; i++ {
			s.Schedule()
		}

		seen := map[TaskID]int{}
		for _, id := range *order {
			seen[id]++
		}
		assert.Len(t, seen, n, "start %d", start)
		for id, count := range seen {
			assert.Equal(t, 1, count, "start %d task %d", start, id)
		}
		assert.Equal(t, first, (*order)[n-1], "cycle should end where it started")
	}
}

func TestScheduleKeepsCurrentWhenAlone(t *testing.T) {
	s, _ := newBooted(t, Config{Quantum: 2})
	a := mustCreate(t, s, "A", nil)
	s.Schedule()
	require.Equal(t, a, s.Current())

	for i := 0; i < 10; i++ {
		s.Tick()
	}
	assert.Equal(t, a, s.Current())
	task, _ := s.Lookup(a)
	assert.Equal(t, uint64(10), task.CPUTime)
	assert.Equal(t, uint64(1), s.Switches())
}

func TestIdleOnlyWhenNothingReady(t *testing.T) {
	s, _ := newBooted(t, Config{Quantum: 1})
	s.Tick()
	assert.Equal(t, IdleTask, s.Current())
	assert.False(t, s.Ready())

	a := mustCreate(t, s, "A", nil)
	assert.True(t, s.Ready())
	s.Tick()
	assert.Equal(t, a, s.Current())
	s.Tick()
	assert.Equal(t, a, s.Current(), "idle must not take a turn while A is runnable")
}

func TestTerminateCurrentRecyclesSlot(t *testing.T) {
	s, m := newBooted(t, Config{})
	a := mustCreate(t, s, "A", nil)
	b := mustCreate(t, s, "B", nil)
	s.Schedule()
	require.Equal(t, a, s.Current())
	usedBefore, _ := m.Usage()

	require.NoError(t, s.TerminateCurrent())
	assert.Equal(t, b, s.Current())
	_, ok := s.Lookup(a)
	assert.False(t, ok)
	usedAfter, _ := m.Usage()
	assert.Equal(t, usedBefore-DefaultStackSize, usedAfter)

	id := mustCreate(t, s, "C", nil)
	assert.Equal(t, a, id, "terminated slot is reused")
	task, _ := s.Lookup(id)
	assert.Equal(t, "C", task.Name)
	assert.Zero(t, task.CPUTime)

	require.NoError(t, s.TerminateCurrent())
	assert.Equal(t, id, s.Current())
	require.NoError(t, s.TerminateCurrent())
	assert.Equal(t, IdleTask, s.Current())
	assert.ErrorIs(t, s.TerminateCurrent(), ErrIdleTask)
}

func TestBlockAndUnblock(t *testing.T) {
	s, _ := newBooted(t, Config{})
	a := mustCreate(t, s, "A", nil)
	b := mustCreate(t, s, "B", nil)
	s.Schedule()

	require.NoError(t, s.Block())
	assert.Equal(t, b, s.Current())
	task, _ := s.Lookup(a)
	assert.Equal(t, Blocked, task.State)

	s.Yield()
	assert.Equal(t, b, s.Current(), "blocked task is skipped")

	require.NoError(t, s.Unblock(a))
	assert.ErrorIs(t, s.Unblock(a), ErrNotBlocked)
	s.Yield()
	assert.Equal(t, a, s.Current())
	assert.ErrorIs(t, s.Unblock(200), ErrNoSuchTask)
}

func TestContextSavedAcrossSwitch(t *testing.T) {
	s, _ := newBooted(t, Config{})
	a := mustCreate(t, s, "A", nil)
	b := mustCreate(t, s, "B", nil)

	s.Schedule()
	require.Equal(t, a, s.Current())
	s.CPU().EAX = 0xAAAA
	s.Schedule()
	require.Equal(t, b, s.Current())
	assert.Zero(t, s.CPU().EAX)
	s.CPU().EAX = 0xBBBB
	s.Schedule()
	require.Equal(t, a, s.Current())
	assert.Equal(t, uint32(0xAAAA), s.CPU().EAX)
	assert.Equal(t, a, s.CPU().Task())
}

func TestDispatchAppliesTraps(t *testing.T) {
	s, _ := newBooted(t, Config{})
	runs := map[string]int{}

	yielder := func(id TaskID, _ any) bool {
		runs["yield"]++
		s.CPU().Raise(TrapYield)
		return true
	}
	exiter := func(id TaskID, _ any) bool {
		runs["exit"]++
		return runs["exit"] < 2
	}
	y := mustCreate(t, s, "Y", yielder)
	e := mustCreate(t, s, "E", exiter)

	s.Schedule()
	require.Equal(t, y, s.Current())
	s.Dispatch()
	assert.Equal(t, e, s.Current(), "yield switches at end of dispatch")

	s.Dispatch()
	assert.Equal(t, e, s.Current(), "no trap keeps running")
	s.Dispatch()
	assert.Equal(t, y, s.Current(), "returning false exits")
	_, ok := s.Lookup(e)
	assert.False(t, ok)
	assert.Equal(t, 2, runs["exit"])
}

func TestTrapPrecedence(t *testing.T) {
	var cpu CPU
	cpu.Raise(TrapExit)
	cpu.Raise(TrapYield)
	assert.Equal(t, TrapExit, cpu.trap)
}
