package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	positiveClickColor = color.NRGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	negativeClickColor = color.NRGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	badgeFill          = color.NRGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
	badgeBorder        = color.NRGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
)

const (
	clickCircleRadius  = 8
	clickCrosshairSpan = 12
	badgePaddingX      = 5
	badgeHeight        = 18
)

// drawClickMarker renders the crosshair-and-circle indicator at the marker's
// normalized position scaled into dst pixel space.
func drawClickMarker(dst *image.NRGBA, m ClickMarker) {
	w := dst.Bounds().Dx()
	h := dst.Bounds().Dy()
	cx := clampIndex(int(m.X*float64(w)), w)
	cy := clampIndex(int(m.Y*float64(h)), h)

	col := negativeClickColor
	if m.Positive {
		col = positiveClickColor
	}

	for d := -clickCrosshairSpan; d <= clickCrosshairSpan; d++ {
		setPixel(dst, cx+d, cy, col)
		setPixel(dst, cx, cy+d, col)
	}
	drawCircle(dst, cx, cy, clickCircleRadius, col)
}

// drawCircle plots a midpoint circle outline.
func drawCircle(dst *image.NRGBA, cx, cy, r int, col color.NRGBA) {
	x, y := r, 0
	err := 1 - r
	for x >= y {
		setPixel(dst, cx+x, cy+y, col)
		setPixel(dst, cx-x, cy+y, col)
		setPixel(dst, cx+x, cy-y, col)
		setPixel(dst, cx-x, cy-y, col)
		setPixel(dst, cx+y, cy+x, col)
		setPixel(dst, cx-y, cy+x, col)
		setPixel(dst, cx+y, cy-x, col)
		setPixel(dst, cx-y, cy-x, col)
		y++
		if err < 0 {
			err += 2*y + 1
		} else {
			x--
			err += 2*(y-x) + 1
		}
	}
}

// drawBadge renders the opaque selected-object label box.
func drawBadge(dst *image.NRGBA, b Badge) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, b.Label).Ceil()
	boxW := textW + 2*badgePaddingX
	boxH := badgeHeight

	for y := b.Y; y < b.Y+boxH; y++ {
		for x := b.X; x < b.X+boxW; x++ {
			setPixel(dst, x, y, badgeFill)
		}
	}
	for x := b.X; x < b.X+boxW; x++ {
		setPixel(dst, x, b.Y, badgeBorder)
		setPixel(dst, x, b.Y+boxH-1, badgeBorder)
	}
	for y := b.Y; y < b.Y+boxH; y++ {
		setPixel(dst, b.X, y, badgeBorder)
		setPixel(dst, b.X+boxW-1, y, badgeBorder)
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(badgeBorder),
		Face: face,
		Dot:  fixed.P(b.X+badgePaddingX, b.Y+boxH-5),
	}
	d.DrawString(b.Label)
}

func setPixel(dst *image.NRGBA, x, y int, col color.NRGBA) {
	if !image.Pt(x, y).In(dst.Bounds()) {
		return
	}
	dst.SetNRGBA(x, y, col)
}
