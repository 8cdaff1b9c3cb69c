//go:build cgo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

var controlKeys = []struct {
	key ebiten.Key
	b   byte
}{
	{ebiten.KeyEnter, '\r'},
	{ebiten.KeyNumpadEnter, '\r'},
	{ebiten.KeyBackspace, '\b'},
	{ebiten.KeyTab, '\t'},
	{ebiten.KeyEscape, 0x1b},
}

// poll moves the window's key input into the controller.
func (c *controller) poll() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	if ctrl {
		for k := ebiten.KeyA; k <= ebiten.KeyZ; k++ {
			if inpututil.IsKeyJustPressed(k) {
				c.push(byte(k-ebiten.KeyA) + 1)
			}
		}
		return
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		if b, ok := translate(r); ok {
			c.push(b)
		}
	}
	for _, ck := range controlKeys {
		if inpututil.IsKeyJustPressed(ck.key) {
			c.push(ck.b)
		}
	}
}
