package hal

import (
	"image/color"
	"sync"
)

// memFramebuffer is an RGB565 framebuffer held in host memory. Present
// copies the working buffer into the front buffer read by the window.
type memFramebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	stride int
	buf    []byte
	front  []byte
	frames uint64
}

func newMemFramebuffer(width, height int) *memFramebuffer {
	stride := width * 2
	return &memFramebuffer{
		width:  width,
		height: height,
		stride: stride,
		buf:    make([]byte, stride*height),
		front:  make([]byte, stride*height),
	}
}

func (f *memFramebuffer) Width() int          { return f.width }
func (f *memFramebuffer) Height() int         { return f.height }
func (f *memFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *memFramebuffer) StrideBytes() int    { return f.stride }
func (f *memFramebuffer) Buffer() []byte      { return f.buf }

func (f *memFramebuffer) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.front, f.buf)
	f.frames++
	return nil
}

func (f *memFramebuffer) ClearRGB(r, g, b uint8) {
	c := color.RGBA{R: r, G: g, B: b, A: 0xFF}
	for i := 0; i+1 < len(f.buf); i += 2 {
		putPixel(f.buf, i, c)
	}
}

// snapshotRGBA converts the last presented frame into dst, which holds
// width*height*4 bytes.
func (f *memFramebuffer) snapshotRGBA(dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i+1 < len(f.front) && i/2*4+3 < len(dst); i += 2 {
		c := pixelAt(f.front, i)
		j := (i / 2) * 4
		dst[j+0] = c.R
		dst[j+1] = c.G
		dst[j+2] = c.B
		dst[j+3] = c.A
	}
}

type memDisplay struct {
	fb *memFramebuffer
}

func (d memDisplay) Framebuffer() Framebuffer { return d.fb }
