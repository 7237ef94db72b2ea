package overlay

// Letterbox is the centered, aspect-ratio-preserving rectangle of rendered
// content within a display element.
type Letterbox struct {
	X, Y, W, H float64
}

// Fit computes the letterboxed content rectangle inside a display box using
// scale = min(displayW/contentW, displayH/contentH) with centered offsets.
func Fit(displayW, displayH, contentW, contentH float64) Letterbox {
	if displayW <= 0 || displayH <= 0 || contentW <= 0 || contentH <= 0 {
		return Letterbox{}
	}
	scale := displayW / contentW
	if s := displayH / contentH; s < scale {
		scale = s
	}
	w := contentW * scale
	h := contentH * scale
	return Letterbox{
		X: (displayW - w) / 2,
		Y: (displayH - h) / 2,
		W: w,
		H: h,
	}
}

// PointerToNormalized maps a pointer event at (px, py) in display space to
// normalized [0,1]×[0,1] content coordinates. ok is false when the event
// falls outside the letterboxed content rectangle; such events are dropped
// and no prompt is emitted.
func PointerToNormalized(box Letterbox, px, py float64) (nx, ny float64, ok bool) {
	if box.W <= 0 || box.H <= 0 {
		return 0, 0, false
	}
	if px < box.X || px > box.X+box.W || py < box.Y || py > box.Y+box.H {
		return 0, 0, false
	}
	nx = (px - box.X) / box.W
	ny = (py - box.Y) / box.H
	return nx, ny, true
}
