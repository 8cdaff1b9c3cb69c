package ipc

import (
	"runtime"
	"sync/atomic"
)

const spinLimit = 64

// spinLock is a test-and-set lock with bounded spinning. After spinLimit
// failed attempts the caller yields the processor before trying again.
// Nothing inside a critical section may take the same lock.
type spinLock struct {
	_    [0]func()
	held atomic.Bool
}

func (l *spinLock) lock() {
	for n := 0; !l.held.CompareAndSwap(false, true); n++ {
		if n >= spinLimit {
			runtime.Gosched()
			n = 0
		}
	}
}

func (l *spinLock) unlock() {
	l.held.Store(false)
}

// queue is the fixed-capacity circular inbox of one module.
type queue struct {
	mu    spinLock
	slots []record
	head  int
	tail  int
	count int
}

func newQueue(capacity int) *queue {
	return &queue{slots: make([]record, capacity)}
}

// push copies r to the tail. The caller holds mu.
func (q *queue) push(r *record) bool {
	if q.count == len(q.slots) {
		return false
	}
	q.slots[q.tail] = *r
	q.tail = (q.tail + 1) % len(q.slots)
	q.count++
	return true
}

// pop copies the head record out and advances. The caller holds mu.
func (q *queue) pop(r *record) bool {
	if q.count == 0 {
		return false
	}
	*r = q.slots[q.head]
	q.slots[q.head] = record{}
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return true
}

func (q *queue) front(r *record) bool {
	if q.count == 0 {
		return false
	}
	*r = q.slots[q.head]
	return true
}
