package hal

import "image/color"

// RGB565 pixels are stored little endian, two bytes each.

func putPixel(buf []byte, off int, c color.RGBA) {
	p := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
	buf[off] = byte(p)
	buf[off+1] = byte(p >> 8)
}

// pixelAt expands the RGB565 pixel at off to full range.
func pixelAt(buf []byte, off int) color.RGBA {
	p := uint16(buf[off]) | uint16(buf[off+1])<<8
	return color.RGBA{
		R: uint8(uint32(p>>11&0x1F) * 255 / 31),
		G: uint8(uint32(p>>5&0x3F) * 255 / 63),
		B: uint8(uint32(p&0x1F) * 255 / 31),
		A: 0xFF,
	}
}
