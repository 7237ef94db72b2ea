// Package overlay composites decoded segmentation masks onto video frames as
// translucent color overlays and draws the interaction markers layered on
// top of them.
package overlay

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"

	"videoseg/internal/rle"
)

// MaskAlpha is the blend factor applied to every foreground mask pixel.
const MaskAlpha = 0.42

// Color is an opaque RGB display color.
type Color struct {
	R, G, B uint8
}

// ParseHex parses a "#rrggbb" display color. Malformed input yields gray so a
// bad palette entry never breaks rendering.
func ParseHex(s string) Color {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return Color{R: 0x80, G: 0x80, B: 0x80}
	}
	return Color{R: r, G: g, B: b}
}

// Layer is one object's mask to composite.
type Layer struct {
	ObjID int
	Mask  rle.Mask
}

// LayerError records a mask that could not be decoded. The layer is skipped;
// the rest of the frame still renders.
type LayerError struct {
	ObjID int
	Err   error
}

// Markers are the auxiliary indicators drawn after mask compositing, so they
// are unaffected by alpha blending.
type Markers struct {
	Click *ClickMarker
	Badge *Badge
}

// ClickMarker is the last-click indicator: a crosshair plus circle at a
// normalized coordinate, green for a positive label and red for negative.
type ClickMarker struct {
	X, Y     float64 // normalized [0,1] in content space
	Positive bool
}

// Badge is the selected-object label box drawn at a pixel position.
type Badge struct {
	Label string
	X, Y  int
}

// Render paints frame as the base layer at its native resolution, blends
// every visible layer's mask over it in ascending ObjID order (overlaps
// compound), then draws markers. Layers whose masks fail to decode are
// skipped and reported in the returned slice.
func Render(frame image.Image, layers []Layer, colorOf func(objID int) Color, visibleOf func(objID int) bool, markers Markers) (*image.NRGBA, []LayerError) {
	bounds := frame.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, bounds.Min, draw.Src)

	ordered := make([]Layer, len(layers))
	copy(ordered, layers)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ObjID < ordered[j].ObjID })

	var skipped []LayerError
	for _, layer := range ordered {
		if visibleOf != nil && !visibleOf(layer.ObjID) {
			continue
		}
		dense, err := rle.Decode(layer.Mask)
		if err != nil {
			skipped = append(skipped, LayerError{ObjID: layer.ObjID, Err: err})
			continue
		}
		blendMask(dst, dense, layer.Mask.Height(), layer.Mask.Width(), colorOf(layer.ObjID))
	}

	if markers.Click != nil {
		drawClickMarker(dst, *markers.Click)
	}
	if markers.Badge != nil {
		drawBadge(dst, *markers.Badge)
	}
	return dst, skipped
}

// blendMask alpha-blends the mask's foreground pixels into dst, resampling
// with nearest-neighbor when the mask grid differs from the frame size.
func blendMask(dst *image.NRGBA, dense []byte, maskH, maskW int, c Color) {
	dstW := dst.Bounds().Dx()
	dstH := dst.Bounds().Dy()
	if dstW == 0 || dstH == 0 || maskW == 0 || maskH == 0 {
		return
	}

	for y := 0; y < dstH; y++ {
		// src = floor((d+0.5)*maskDim/dstDim), in exact integer form.
		sy := clampIndex((2*y+1)*maskH/(2*dstH), maskH)
		rowBase := sy * maskW
		for x := 0; x < dstW; x++ {
			sx := clampIndex((2*x+1)*maskW/(2*dstW), maskW)
			if dense[rowBase+sx] == 0 {
				continue
			}
			off := dst.PixOffset(x, y)
			dst.Pix[off+0] = blendChannel(dst.Pix[off+0], c.R)
			dst.Pix[off+1] = blendChannel(dst.Pix[off+1], c.G)
			dst.Pix[off+2] = blendChannel(dst.Pix[off+2], c.B)
			// Alpha channel untouched.
		}
	}
}

func blendChannel(base, over uint8) uint8 {
	return uint8(math.Round(float64(base)*(1-MaskAlpha) + float64(over)*MaskAlpha))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
