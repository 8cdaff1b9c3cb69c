package ipc

import "go.uber.org/zap"

// Handler consumes messages delivered to one module.
type Handler interface {
	Handle(m Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m Message)

func (f HandlerFunc) Handle(m Message) { f(m) }

// Mux routes messages to a handler per type. Unrouted messages go to
// Fallback when it is set and are otherwise ignored.
type Mux struct {
	routes   map[Type]Handler
	Fallback Handler
}

// NewMux returns a mux with no routes.
func NewMux() *Mux {
	return &Mux{routes: make(map[Type]Handler)}
}

// Route sends messages of type t to h, replacing any earlier route.
func (x *Mux) Route(t Type, h Handler) *Mux {
	x.routes[t] = h
	return x
}

// RouteFunc is Route for a plain function.
func (x *Mux) RouteFunc(t Type, f func(Message)) *Mux {
	return x.Route(t, HandlerFunc(f))
}

func (x *Mux) Handle(m Message) {
	if h, ok := x.routes[m.Type()]; ok {
		h.Handle(m)
		return
	}
	if x.Fallback != nil {
		x.Fallback.Handle(m)
	}
}

// DrainAndDispatch receives from mod until its inbox is empty and hands
// each valid message to h. Messages asking for acknowledgment are answered
// before h runs. Invalid records are dropped. It returns the number of
// messages dispatched.
func (b *Bus) DrainAndDispatch(mod Module, h Handler) int {
	n := 0
	for {
		m, res := b.Receive(mod)
		switch res {
		case RecvEmpty, RecvErrNoModule:
			return n
		case RecvOK:
		default:
			continue
		}
		if m.RequiresAck && !m.Acknowledged {
			b.ack(mod, m)
		}
		if h != nil {
			h.Handle(m)
		}
		n++
	}
}

func (b *Bus) ack(mod Module, m Message) {
	reply := Message{
		Sender:  mod,
		Payload: Ack{MessageID: m.ID},
	}
	if _, res := b.Send(m.Sender, reply); res != SendOK {
		b.log.Warn("ack not delivered",
			zap.Uint32("id", m.ID),
			zap.Stringer("from", mod),
			zap.Stringer("to", m.Sender),
			zap.Stringer("result", res))
		return
	}
	b.stats.acks.Add(1)
}

// Broadcast sends a copy of m to every module other than its sender.
func (b *Bus) Broadcast(m Message) map[Module]SendResult {
	out := make(map[Module]SendResult, ModuleCount-1)
	for _, dst := range Modules() {
		if dst == m.Sender {
			continue
		}
		_, out[dst] = b.Send(dst, m)
	}
	return out
}
