// Package session owns the single active segmentation session: its immutable
// video metadata, the per-frame result cache, the object registry, and the
// propagation generation counter. All mutating operations against the
// inference engine are serialized through the Coordinator.
package session

import (
	"fmt"

	"videoseg/internal/rle"
)

// ObjectOutput is one object's segmentation result on a single frame, as it
// travels over the wire.
type ObjectOutput struct {
	ObjID    int        `json:"obj_id"`
	Score    float64    `json:"score"`
	BBoxXYWH [4]float64 `json:"bbox_xywh"`
	MaskRLE  rle.Mask   `json:"mask_rle"`
}

// FrameResult is the full segmentation result for one frame. Results wholly
// replace any prior result for the same frame index.
type FrameResult struct {
	FrameIndex int            `json:"frame_index"`
	Objects    []ObjectOutput `json:"objects"`
}

// Point is a normalized click prompt coordinate with its label:
// 1 for positive (include), 0 for negative (exclude).
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"`
}

// Object is a tracked object's identity and display metadata. The sign of
// ObjID is meaningful: negative ids are manually created (click-prompted)
// objects, positive ids are model-detected ones. Ids are never reused within
// a session.
type Object struct {
	ObjID        int    `json:"obj_id"`
	DisplayColor string `json:"display_color"` // "#rrggbb"
	Visible      bool   `json:"visible"`
	ClassName    string `json:"class_name"`
	InstanceName string `json:"instance_name"`
}

// Manual reports whether the object was created by a user click rather than
// detected by the model.
func (o Object) Manual() bool { return o.ObjID < 0 }

// Record is the immutable metadata of an active session, fixed at creation
// from the uploaded video.
type Record struct {
	SessionID         string  `json:"session_id"`
	UploadPath        string  `json:"-"`
	FramesDir         string  `json:"-"`
	NumFrames         int     `json:"num_frames"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	SourceFPS         float64 `json:"source_fps"`
	ProcessingFPS     float64 `json:"processing_fps"`
	SourceDurationSec float64 `json:"source_duration_sec"`
}

// Direction selects which way propagation walks the video from the start
// frame.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionBoth     Direction = "both"
)

// ParseDirection validates a wire direction string. The empty string selects
// the default, "both".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return DirectionBoth, nil
	case DirectionForward, DirectionBackward, DirectionBoth:
		return Direction(s), nil
	}
	return "", &Error{
		Code:    CodeInvalidDirection,
		Message: fmt.Sprintf("direction must be one of forward, backward, both; got %q", s),
	}
}
