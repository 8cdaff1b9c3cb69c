package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrNotFound       = errors.New("not found")
)

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Interrupt lines wired on the primary controller.
const (
	LineTimer    uint8 = 0
	LineKeyboard uint8 = 1
)

// Keyboard is the keyboard controller's output buffer. Each byte that
// arrives raises LineKeyboard.
type Keyboard interface {
	ReadKey() (byte, bool)
	Buffered() int
}

// Console is a character display.
type Console interface {
	Print(s string)
	Snapshot() []string
}

// Time is the programmable interval timer. Each tick raises LineTimer.
type Time interface {
	Now() uint64
	// TakeTick is called once per serviced timer interrupt. It reports
	// whether further ticks elapsed that have not been delivered yet.
	TakeTick() bool
}

// Storage keeps named blobs across runs.
type Storage interface {
	Save(name string, data []byte) error
	Load(name string) ([]byte, error)
	Delete(name string) error
	Exists(name string) (bool, error)
}

// HAL provides the only contact point between the OS and the outside world.
type HAL interface {
	Logger() Logger
	Console() Console
	Keyboard() Keyboard
	Time() Time
	PIC() *PIC
	Storage() Storage
	Display() Display
}
