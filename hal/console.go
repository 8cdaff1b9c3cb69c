package hal

import (
	"strings"
	"sync"
)

const (
	ConsoleCols = 80
	ConsoleRows = 25
	tabWidth    = 8
)

// TextConsole is an 80x25 character grid in the manner of VGA text mode.
// Output wraps at the right edge and the grid scrolls up at the bottom.
type TextConsole struct {
	mu    sync.Mutex
	cells [ConsoleRows][ConsoleCols]byte
	row   int
	col   int
	gen   uint64

	line   []byte
	onLine func(string)
}

// NewTextConsole returns a blank console. onLine, if set, receives each
// completed output line without its newline.
func NewTextConsole(onLine func(string)) *TextConsole {
	c := &TextConsole{onLine: onLine}
	c.clear()
	return c
}

func (c *TextConsole) clear() {
	for r := range c.cells {
		for i := range c.cells[r] {
			c.cells[r][i] = ' '
		}
	}
	c.row, c.col = 0, 0
}

func (c *TextConsole) Print(s string) {
	var done []string

	c.mu.Lock()
	for i := 0; i < len(s); i++ {
		if line, ok := c.putc(s[i]); ok {
			done = append(done, line)
		}
	}
	c.gen++
	c.mu.Unlock()

	if c.onLine != nil {
		for _, line := range done {
			c.onLine(line)
		}
	}
}

func (c *TextConsole) putc(b byte) (string, bool) {
	switch {
	case b == '\n':
		line := string(c.line)
		c.line = c.line[:0]
		c.newline()
		return line, true
	case b == '\r':
		c.col = 0
	case b == '\b':
		if c.col > 0 {
			c.col--
			c.cells[c.row][c.col] = ' '
		}
		if n := len(c.line); n > 0 {
			c.line = c.line[:n-1]
		}
	case b == '\t':
		next := (c.col/tabWidth + 1) * tabWidth
		for c.col < next && c.col < ConsoleCols {
			c.cells[c.row][c.col] = ' '
			c.col++
		}
		c.line = append(c.line, '\t')
		if c.col >= ConsoleCols {
			c.newline()
		}
	case b >= 0x20 && b < 0x7f:
		c.cells[c.row][c.col] = b
		c.col++
		c.line = append(c.line, b)
		if c.col >= ConsoleCols {
			c.newline()
		}
	}
	return "", false
}

func (c *TextConsole) newline() {
	c.col = 0
	if c.row < ConsoleRows-1 {
		c.row++
		return
	}
	copy(c.cells[:], c.cells[1:])
	for i := range c.cells[ConsoleRows-1] {
		c.cells[ConsoleRows-1][i] = ' '
	}
}

// Snapshot returns every row with trailing blanks removed.
func (c *TextConsole) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]string, ConsoleRows)
	for r := range c.cells {
		rows[r] = strings.TrimRight(string(c.cells[r][:]), " ")
	}
	return rows
}

// Cursor returns the row and column the next character goes to.
func (c *TextConsole) Cursor() (row, col int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.row, c.col
}

// Generation changes every time output is written.
func (c *TextConsole) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *TextConsole) cellsCopy() [ConsoleRows][ConsoleCols]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cells
}
