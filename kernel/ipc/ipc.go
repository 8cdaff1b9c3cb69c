// Package ipc is the inter-module message bus: one fixed-capacity inbox
// per module, checksummed fixed-size records and optional acknowledgment.
package ipc

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// Module identifies a bus participant. Each module owns one inbox.
type Module uint8

const (
	ModuleKernel Module = iota
	ModuleDoctor
	ModuleMedication
	ModuleCashier
	ModuleReception
	ModuleWarehouse

	ModuleCount = 6
)

// Valid reports whether m names one of the six inboxes.
func (m Module) Valid() bool { return m < ModuleCount }

func (m Module) String() string {
	switch m {
	case ModuleKernel:
		return "KERNEL"
	case ModuleDoctor:
		return "DOCTOR"
	case ModuleMedication:
		return "MEDICATION"
	case ModuleCashier:
		return "CASHIER"
	case ModuleReception:
		return "RECEPTION"
	case ModuleWarehouse:
		return "WAREHOUSE"
	default:
		return "UNKNOWN"
	}
}

// Modules lists every module in id order.
func Modules() []Module {
	return []Module{ModuleKernel, ModuleDoctor, ModuleMedication, ModuleCashier, ModuleReception, ModuleWarehouse}
}

// SendResult is the outcome of Send. Only SendOK means the message was queued.
type SendResult uint8

const (
	SendOK SendResult = iota
	SendErrNoModule
	SendErrPayloadTooLarge
	SendErrQueueFull
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendErrNoModule:
		return "no such module"
	case SendErrPayloadTooLarge:
		return "payload too large"
	case SendErrQueueFull:
		return "queue full"
	default:
		return "unknown"
	}
}

// RecvResult is the outcome of Receive and Peek.
type RecvResult uint8

const (
	RecvOK RecvResult = iota
	RecvEmpty
	RecvErrChecksum
	RecvErrMalformed
	RecvErrNoModule
)

func (r RecvResult) String() string {
	switch r {
	case RecvOK:
		return "ok"
	case RecvEmpty:
		return "empty"
	case RecvErrChecksum:
		return "checksum failure"
	case RecvErrMalformed:
		return "malformed"
	case RecvErrNoModule:
		return "no such module"
	default:
		return "unknown"
	}
}

// DefaultCapacity is the per-module inbox size.
const DefaultCapacity = 100

// Config sizes the bus. A zero Capacity means DefaultCapacity.
type Config struct {
	Capacity int
}

// Stats counts bus traffic since creation.
type Stats struct {
	Sent           uint64
	Received       uint64
	QueueFull      uint64
	ChecksumErrors uint64
	Malformed      uint64
	Acks           uint64
}

type counters struct {
	sent, received, queueFull, checksum, malformed, acks atomic.Uint64
}

// Bus holds the six module inboxes. Queues share no state except the
// message id counter.
type Bus struct {
	queues  [ModuleCount]*queue
	pending [ModuleCount]atomic.Bool
	nextID  atomic.Uint32
	stats   counters
	log     *zap.Logger
}

// New returns a bus with an empty inbox per module.
func New(cfg Config, log *zap.Logger) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{log: log}
	for i := range b.queues {
		b.queues[i] = newQueue(cfg.Capacity)
	}
	return b
}

// Send appends m to dst's inbox and returns the assigned message id.
// The receiver field is overwritten with dst; every other field travels
// as given, so senders stamp the timestamp themselves. Send never waits
// for room.
func (b *Bus) Send(dst Module, m Message) (uint32, SendResult) {
	if !dst.Valid() || !m.Sender.Valid() {
		return 0, SendErrNoModule
	}
	m.Receiver = dst

	var r record
	if err := r.encode(&m); err != nil {
		b.log.Warn("send rejected",
			zap.Stringer("from", m.Sender),
			zap.Stringer("to", dst),
			zap.Stringer("type", m.Type()),
			zap.Error(err))
		return 0, SendErrPayloadTooLarge
	}

	q := b.queues[dst]
	q.mu.lock()
	if q.count == len(q.slots) {
		q.mu.unlock()
		b.stats.queueFull.Add(1)
		b.log.Warn("queue full",
			zap.Stringer("from", m.Sender),
			zap.Stringer("to", dst),
			zap.Stringer("type", m.Type()))
		return 0, SendErrQueueFull
	}
	id := b.nextID.Add(1)
	r.seal(id)
	q.push(&r)
	b.pending[dst].Store(true)
	q.mu.unlock()

	b.stats.sent.Add(1)
	b.log.Debug("message sent",
		zap.Uint32("id", id),
		zap.Stringer("from", m.Sender),
		zap.Stringer("to", dst),
		zap.Stringer("type", m.Type()))
	return id, SendOK
}

// Receive removes the oldest message from mod's inbox. A record that fails
// validation is consumed anyway and reported; it is never redelivered.
func (b *Bus) Receive(mod Module) (Message, RecvResult) {
	if !mod.Valid() {
		return Message{}, RecvErrNoModule
	}
	q := b.queues[mod]
	var r record
	q.mu.lock()
	ok := q.pop(&r)
	if q.count == 0 {
		b.pending[mod].Store(false)
	}
	q.mu.unlock()
	if !ok {
		return Message{}, RecvEmpty
	}

	m, res := b.open(mod, &r)
	if res == RecvOK {
		b.stats.received.Add(1)
	}
	return m, res
}

// Peek returns the oldest message without consuming it.
func (b *Bus) Peek(mod Module) (Message, RecvResult) {
	if !mod.Valid() {
		return Message{}, RecvErrNoModule
	}
	q := b.queues[mod]
	var r record
	q.mu.lock()
	ok := q.front(&r)
	q.mu.unlock()
	if !ok {
		return Message{}, RecvEmpty
	}
	m, err := r.decode()
	return m, resultOf(err)
}

func (b *Bus) open(mod Module, r *record) (Message, RecvResult) {
	m, err := r.decode()
	res := resultOf(err)
	switch res {
	case RecvErrChecksum:
		b.stats.checksum.Add(1)
	case RecvErrMalformed:
		b.stats.malformed.Add(1)
	}
	if err != nil {
		b.log.Error("message dropped",
			zap.Stringer("module", mod),
			zap.Uint32("id", m.ID),
			zap.Stringer("from", m.Sender),
			zap.Stringer("result", res),
			zap.Error(err))
	}
	return m, res
}

func resultOf(err error) RecvResult {
	switch {
	case err == nil:
		return RecvOK
	case errors.Is(err, errChecksum):
		return RecvErrChecksum
	default:
		return RecvErrMalformed
	}
}

// Pending reports whether mod has been signalled since its inbox was last
// emptied.
func (b *Bus) Pending(mod Module) bool {
	if !mod.Valid() {
		return false
	}
	return b.pending[mod].Load()
}

// TakePending reads and clears mod's pending indicator.
func (b *Bus) TakePending(mod Module) bool {
	if !mod.Valid() {
		return false
	}
	return b.pending[mod].Swap(false)
}

// Len returns the number of queued messages for mod.
func (b *Bus) Len(mod Module) int {
	if !mod.Valid() {
		return 0
	}
	q := b.queues[mod]
	q.mu.lock()
	defer q.mu.unlock()
	return q.count
}

// Capacity is the size of each inbox.
func (b *Bus) Capacity() int { return len(b.queues[0].slots) }

// Stats returns a snapshot of the traffic counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Sent:           b.stats.sent.Load(),
		Received:       b.stats.received.Load(),
		QueueFull:      b.stats.queueFull.Load(),
		ChecksumErrors: b.stats.checksum.Load(),
		Malformed:      b.stats.malformed.Load(),
		Acks:           b.stats.acks.Load(),
	}
}
