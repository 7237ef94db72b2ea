// Package rle implements the COCO compressed run-length encoding used to
// ship binary segmentation masks over the wire. Runs are laid out in
// column-major order over a height×width grid, alternate background and
// foreground starting with background, and are packed as variable-length
// integers: 5 bits per byte (offset by ASCII '0'), continuation bit 0x20,
// sign-extension bit 0x10 on the final group, with every run at index > 2
// delta-coded against the run two positions back.
package rle

import (
	"fmt"
	"strings"
)

// Mask is the wire form of a binary mask.
type Mask struct {
	Size   [2]int `json:"size"` // [height, width]
	Counts string `json:"counts"`
}

// Height returns the mask grid height.
func (m Mask) Height() int { return m.Size[0] }

// Width returns the mask grid width.
func (m Mask) Width() int { return m.Size[1] }

// DecodeError reports a counts string that cannot be expanded into a valid
// mask. Decode failures are local to one object and must not abort rendering
// of the rest of a frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "rle: " + e.Reason }

// Decode expands m into a dense row-major byte slice of length h*w with
// values in {0,1}. Results are memoized by (size, counts); callers must treat
// the returned slice as read-only.
//
// Runs that sum to less than h*w leave the remainder background, matching the
// reference decoder, so both "" and "0" decode to an all-background mask.
// Runs that overflow h*w are a DecodeError.
func Decode(m Mask) ([]byte, error) {
	h, w := m.Size[0], m.Size[1]
	if h < 0 || w < 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("negative mask size [%d, %d]", h, w)}
	}

	if dense, ok := cacheGet(m); ok {
		return dense, nil
	}

	runs, err := decodeCounts(m.Counts)
	if err != nil {
		return nil, err
	}

	n := h * w
	col := make([]byte, n)
	idx := 0
	v := byte(0)
	for _, run := range runs {
		if run < 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("negative run length %d", run)}
		}
		if idx+run > n {
			return nil, &DecodeError{Reason: fmt.Sprintf("runs exceed mask area %d", n)}
		}
		if v == 1 {
			for i := 0; i < run; i++ {
				col[idx+i] = 1
			}
		}
		idx += run
		v ^= 1
	}

	// Transpose column-major to row-major.
	dense := make([]byte, n)
	for i, px := range col {
		if px != 0 {
			dense[(i%h)*w+(i/h)] = 1
		}
	}

	cachePut(m, dense)
	return dense, nil
}

// Encode converts a dense row-major h×w binary mask (nonzero bytes are
// foreground) into its wire form. Encode is the exact inverse of Decode.
func Encode(dense []byte, h, w int) (Mask, error) {
	if h < 0 || w < 0 {
		return Mask{}, fmt.Errorf("rle: negative mask size [%d, %d]", h, w)
	}
	if len(dense) != h*w {
		return Mask{}, fmt.Errorf("rle: dense mask has %d pixels, want %d", len(dense), h*w)
	}

	// Column-major alternating runs, background first.
	var runs []int
	v := byte(0)
	run := 0
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			px := dense[r*w+c]
			if px != 0 {
				px = 1
			}
			if px != v {
				runs = append(runs, run)
				run = 0
				v = px
			}
			run++
		}
	}
	runs = append(runs, run)

	return Mask{Size: [2]int{h, w}, Counts: encodeCounts(runs)}, nil
}

// decodeCounts unpacks the varint groups into absolute run lengths.
func decodeCounts(counts string) ([]int, error) {
	runs := make([]int, 0, len(counts))
	p := 0
	for p < len(counts) {
		x := 0
		k := 0
		more := true
		for more {
			if p >= len(counts) {
				return nil, &DecodeError{Reason: "truncated varint group"}
			}
			c := int(counts[p]) - 48
			if c < 0 || c > 63 {
				return nil, &DecodeError{Reason: fmt.Sprintf("invalid byte %q at offset %d", counts[p], p)}
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if len(runs) > 2 {
			x += runs[len(runs)-2]
		}
		runs = append(runs, x)
	}
	return runs, nil
}

// encodeCounts packs absolute run lengths into the varint wire string.
func encodeCounts(runs []int) string {
	var b strings.Builder
	for i, run := range runs {
		x := int64(run)
		if i > 2 {
			x -= int64(runs[i-2])
		}
		more := true
		for more {
			c := byte(x & 0x1f)
			x >>= 5
			if c&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				c |= 0x20
			}
			b.WriteByte(c + 48)
		}
	}
	return b.String()
}
