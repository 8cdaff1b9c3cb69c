package hal

import (
	"sync/atomic"
	"time"
)

// DefaultHz is the timer rate.
const DefaultHz = 100

// hostTime turns elapsed host time into timer ticks at hz. Each tick
// raises LineTimer. Ticks that arrive while the line is pending or in
// service stay owed until TakeTick hands them out.
type hostTime struct {
	seq  atomic.Uint64
	owed atomic.Uint64
	pic  *PIC
	dur time.Duration

	last time.Time
	acc  time.Duration
}

func newHostTime(hz int, pic *PIC) *hostTime {
	if hz <= 0 {
		hz = DefaultHz
	}
	return &hostTime{
		pic: pic,
		dur: time.Second / time.Duration(hz),
	}
}

func (t *hostTime) Now() uint64 { return t.seq.Load() }

// step advances by the host time elapsed since the previous call. The
// first call yields n ticks.
func (t *hostTime) step(n uint64) {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(n)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / t.dur)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % t.dur
	t.stepN(ticks)
}

func (t *hostTime) stepN(n uint64) {
	if n == 0 {
		return
	}
	t.seq.Add(n)
	t.owed.Add(n)
	if t.pic != nil {
		t.pic.Raise(LineTimer)
	}
}

// TakeTick accounts for one serviced timer interrupt and reports whether
// more ticks are owed.
func (t *hostTime) TakeTick() bool {
	for {
		n := t.owed.Load()
		if n == 0 {
			return false
		}
		if t.owed.CompareAndSwap(n, n-1) {
			return n > 1
		}
	}
}
