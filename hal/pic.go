package hal

import "sync"

// NumLines is the number of request lines on the controller.
const NumLines = 8

// PIC is a single virtual 8259 interrupt controller.
//
// A request latches into IRR unless its line is masked or already
// pending. Next moves the lowest pending line into ISR; while a line is in
// service further requests on it are dropped until Ack.
type PIC struct {
	mu      sync.Mutex
	irr     uint8
	isr     uint8
	imr     uint8
	dropped [NumLines]uint64
	notify  chan struct{}
}

// NewPIC returns a controller with every line unmasked.
func NewPIC() *PIC {
	return &PIC{notify: make(chan struct{}, 1)}
}

// Raise requests an interrupt on line. It reports whether the request was
// latched.
func (p *PIC) Raise(line uint8) bool {
	if line >= NumLines {
		return false
	}
	bit := uint8(1) << line

	p.mu.Lock()
	if p.imr&bit != 0 || p.irr&bit != 0 || p.isr&bit != 0 {
		p.dropped[line]++
		p.mu.Unlock()
		return false
	}
	p.irr |= bit
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// Next takes the highest priority pending request and marks it in service.
func (p *PIC) Next() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := p.irr &^ p.imr
	if ready == 0 {
		return 0, false
	}
	for line := uint8(0); line < NumLines; line++ {
		bit := uint8(1) << line
		if ready&bit == 0 {
			continue
		}
		p.irr &^= bit
		p.isr |= bit
		return line, true
	}
	return 0, false
}

// Ack is the end-of-interrupt for line.
func (p *PIC) Ack(line uint8) {
	if line >= NumLines {
		return
	}
	p.mu.Lock()
	p.isr &^= 1 << line
	p.mu.Unlock()
}

func (p *PIC) Mask(line uint8) {
	if line >= NumLines {
		return
	}
	p.mu.Lock()
	p.imr |= 1 << line
	p.mu.Unlock()
}

func (p *PIC) Unmask(line uint8) {
	if line >= NumLines {
		return
	}
	p.mu.Lock()
	p.imr &^= 1 << line
	pending := p.irr&^p.imr != 0
	p.mu.Unlock()

	if pending {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

// Registers returns IRR, ISR and IMR.
func (p *PIC) Registers() (irr, isr, imr uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irr, p.isr, p.imr
}

// Dropped returns how many requests on line were not latched.
func (p *PIC) Dropped(line uint8) uint64 {
	if line >= NumLines {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped[line]
}

// Notify receives a value after a request is latched.
func (p *PIC) Notify() <-chan struct{} { return p.notify }
