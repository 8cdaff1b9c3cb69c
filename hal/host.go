package hal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrHalt is returned by a step function once the system has stopped.
var ErrHalt = errors.New("system halted")

// Config selects the host devices.
type Config struct {
	// Hz is the timer rate.
	Hz int
	// StoragePath is the SQLite database. Empty keeps state in memory.
	StoragePath string
	// Echo receives each completed console line. Nil disables the mirror.
	Echo io.Writer
	// Log receives log lines. Defaults to stderr.
	Log io.Writer
	// Framebuffer allocates a framebuffer sized for the console.
	Framebuffer bool
}

// Host is the HAL implementation for running on a desktop OS.
type Host struct {
	logger *hostLogger
	con    *TextConsole
	kbd    *controller
	t      *hostTime
	pic    *PIC
	store  *SQLStorage
	fb     *memFramebuffer
}

var _ HAL = (*Host)(nil)

// New returns a host HAL implementation.
func New(cfg Config) (*Host, error) {
	if cfg.Log == nil {
		cfg.Log = os.Stderr
	}
	store, err := OpenStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	pic := NewPIC()
	h := &Host{
		logger: &hostLogger{w: cfg.Log},
		kbd:    newController(pic),
		t:      newHostTime(cfg.Hz, pic),
		pic:    pic,
		store:  store,
	}
	var onLine func(string)
	if cfg.Echo != nil {
		echo := &lineWriter{w: bufio.NewWriter(cfg.Echo)}
		onLine = echo.writeLine
	}
	h.con = NewTextConsole(onLine)
	if cfg.Framebuffer {
		w, hh := ConsoleFramebufferSize()
		h.fb = newMemFramebuffer(w, hh)
	}
	return h, nil
}

func (h *Host) Logger() Logger     { return h.logger }
func (h *Host) Console() Console   { return h.con }
func (h *Host) Keyboard() Keyboard { return h.kbd }
func (h *Host) Time() Time         { return h.t }
func (h *Host) PIC() *PIC          { return h.pic }
func (h *Host) Storage() Storage   { return h.store }

func (h *Host) Display() Display {
	if h.fb == nil {
		return nil
	}
	return memDisplay{fb: h.fb}
}

// TextConsole returns the console grid for rendering.
func (h *Host) TextConsole() *TextConsole { return h.con }

func (h *Host) Close() error {
	if err := h.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (l *lineWriter) writeLine(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.WriteString(s)
	l.w.WriteByte('\n')
	l.w.Flush()
}
