package hal

import "sync"

// keyboardBufferSize is the controller's output buffer. Bytes arriving
// while it is full are lost.
const keyboardBufferSize = 16

// controller is the keyboard controller. Every byte written raises
// LineKeyboard on the PIC.
type controller struct {
	mu      sync.Mutex
	buf     [keyboardBufferSize]byte
	r, n    int
	dropped uint64
	pic     *PIC
}

func newController(pic *PIC) *controller {
	return &controller{pic: pic}
}

// push stores b and raises the keyboard line. A full buffer loses b.
func (c *controller) push(b byte) bool {
	if c.put(b) {
		return true
	}
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
	return false
}

func (c *controller) put(b byte) bool {
	c.mu.Lock()
	if c.n == len(c.buf) {
		c.mu.Unlock()
		return false
	}
	c.buf[(c.r+c.n)%len(c.buf)] = b
	c.n++
	c.mu.Unlock()

	if c.pic != nil {
		c.pic.Raise(LineKeyboard)
	}
	return true
}

func (c *controller) ReadKey() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return 0, false
	}
	b := c.buf[c.r]
	c.r = (c.r + 1) % len(c.buf)
	c.n--
	return b, true
}

func (c *controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *controller) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// translate drops anything outside 7-bit ASCII.
func translate(r rune) (byte, bool) {
	if r < 0 || r >= 0x80 {
		return 0, false
	}
	return byte(r), true
}
