//go:build cgo

package hal

import (
	"errors"
	"image"

	"github.com/hajimehoshi/ebiten/v2"

	"hospos/internal/buildinfo"
)

// RunWindow starts a desktop window that shows the console and forwards
// keyboard input. It blocks until the window closes or the system halts.
func RunWindow(h *Host, step func() error) error {
	if h.fb == nil {
		return errors.New("window mode needs a host with a framebuffer")
	}
	g := &hostGame{h: h, step: step, rend: NewConsoleRenderer(h.con, h.fb)}
	ebiten.SetWindowTitle("Hospital POS (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(h.fb.width, h.fb.height)
	ebiten.SetTPS(60)
	err := ebiten.RunGame(g)
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

type hostGame struct {
	h     *Host
	rend  *ConsoleRenderer
	img   *image.RGBA
	fbImg *ebiten.Image
	step  func() error
}

func (g *hostGame) Update() error {
	g.h.kbd.poll()
	g.h.t.step(1)
	if g.step != nil {
		if err := g.step(); err != nil {
			if errors.Is(err, ErrHalt) {
				return ebiten.Termination
			}
			return err
		}
	}
	if _, err := g.rend.Render(); err != nil {
		return err
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, fb.width, fb.height))
		g.fbImg = ebiten.NewImage(fb.width, fb.height)
	}
	fb.snapshotRGBA(g.img.Pix)
	g.fbImg.WritePixels(g.img.Pix)
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
