package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFit_widerDisplay(t *testing.T) {
	// 16:9 content in a 200x100 display: height-limited.
	box := Fit(200, 100, 1600, 900)
	assert.InDelta(t, 100.0/9*16, box.W, 1e-9)
	assert.InDelta(t, 100, box.H, 1e-9)
	assert.InDelta(t, (200-box.W)/2, box.X, 1e-9)
	assert.InDelta(t, 0, box.Y, 1e-9)
}

func TestFit_tallerDisplay(t *testing.T) {
	box := Fit(100, 300, 100, 100)
	assert.InDelta(t, 100, box.W, 1e-9)
	assert.InDelta(t, 100, box.H, 1e-9)
	assert.InDelta(t, 0, box.X, 1e-9)
	assert.InDelta(t, 100, box.Y, 1e-9)
}

func TestPointerToNormalized_insideContent(t *testing.T) {
	box := Fit(200, 100, 100, 100) // content occupies x in [50,150]
	nx, ny, ok := PointerToNormalized(box, 100, 50)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, nx, 1e-9)
	assert.InDelta(t, 0.5, ny, 1e-9)
}

func TestPointerToNormalized_inLetterboxBarDropped(t *testing.T) {
	box := Fit(200, 100, 100, 100)
	_, _, ok := PointerToNormalized(box, 10, 50) // left bar
	assert.False(t, ok)
}

func TestPointerToNormalized_edgesInclusive(t *testing.T) {
	box := Fit(200, 100, 100, 100)
	nx, _, ok := PointerToNormalized(box, 50, 0)
	assert.True(t, ok)
	assert.InDelta(t, 0, nx, 1e-9)

	nx, _, ok = PointerToNormalized(box, 150, 100)
	assert.True(t, ok)
	assert.InDelta(t, 1, nx, 1e-9)
}

func TestPointerToNormalized_degenerateBox(t *testing.T) {
	_, _, ok := PointerToNormalized(Letterbox{}, 0, 0)
	assert.False(t, ok)
}
