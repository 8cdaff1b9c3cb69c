package hal

import (
	"image/color"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

var (
	consoleFG = color.RGBA{R: 0xAA, G: 0xAA, B: 0xAA, A: 0xFF}
	consoleBG = color.RGBA{A: 0xFF}
)

// ConsoleRenderer draws a TextConsole onto an RGB565 framebuffer.
type ConsoleRenderer struct {
	con  *TextConsole
	fb   Framebuffer
	d    *fbDisplay
	font tinyfont.Fonter

	cellW, cellH int16
	baseline     int16
	drawn        uint64
	fresh        bool
}

// consoleFont returns the glyph set and cell metrics used for the grid.
func consoleFont() (font tinyfont.Fonter, w, h, baseline int16) {
	font = &proggy.TinySZ8pt7b
	_, outbox := tinyfont.LineWidth(font, "0")
	w = int16(outbox)
	h = int16(font.GetYAdvance())
	if w <= 0 {
		w = 6
	}
	if h <= 0 {
		h = 10
	}
	return font, w, h, h - h/4
}

// ConsoleFramebufferSize returns the pixel size that fits the whole grid.
func ConsoleFramebufferSize() (width, height int) {
	_, w, h, _ := consoleFont()
	return int(w) * ConsoleCols, int(h) * ConsoleRows
}

func NewConsoleRenderer(con *TextConsole, fb Framebuffer) *ConsoleRenderer {
	font, w, h, base := consoleFont()
	return &ConsoleRenderer{
		con:      con,
		fb:       fb,
		d:        &fbDisplay{fb: fb},
		font:     font,
		cellW:    w,
		cellH:    h,
		baseline: base,
		fresh:    true,
	}
}

// Render redraws the framebuffer if the console changed since the last
// call. It reports whether anything was drawn.
func (r *ConsoleRenderer) Render() (bool, error) {
	if r.fb == nil || r.fb.Format() != PixelFormatRGB565 {
		return false, ErrNotImplemented
	}
	gen := r.con.Generation()
	if !r.fresh && gen == r.drawn {
		return false, nil
	}
	r.fresh = false
	r.drawn = gen

	cells := r.con.cellsCopy()
	r.fb.ClearRGB(consoleBG.R, consoleBG.G, consoleBG.B)
	for row := range cells {
		y := int16(row)*r.cellH + r.baseline
		for col, b := range cells[row] {
			if b == ' ' {
				continue
			}
			tinyfont.DrawChar(r.d, r.font, int16(col)*r.cellW, y, rune(b), consoleFG)
		}
	}

	crow, ccol := r.con.Cursor()
	_ = r.d.FillRectangle(int16(ccol)*r.cellW, int16(crow)*r.cellH+r.cellH-2, r.cellW, 2, consoleFG)
	return true, r.d.Display()
}

// fbDisplay adapts a Framebuffer to drivers.Displayer.
type fbDisplay struct {
	fb Framebuffer
}

var _ drivers.Displayer = (*fbDisplay)(nil)

func (d *fbDisplay) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	buf := d.fb.Buffer()
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	off := iy*d.fb.StrideBytes() + ix*2
	if off+1 >= len(buf) {
		return
	}
	putPixel(buf, off, c)
}

func (d *fbDisplay) Display() error {
	return d.fb.Present()
}

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	for yy := y; yy < y+height; yy++ {
		for xx := x; xx < x+width; xx++ {
			d.SetPixel(xx, yy, c)
		}
	}
	return nil
}
