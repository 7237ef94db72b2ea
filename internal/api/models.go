// Package api exposes the session server's HTTP endpoints using go-chi.
package api

import "videoseg/internal/session"

// UploadResponse is returned after a video upload creates a session.
type UploadResponse struct {
	SessionID           string  `json:"session_id"`
	NumFrames           int     `json:"num_frames"`
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	SourceFPS           float64 `json:"source_fps"`
	ProcessingFPS       float64 `json:"processing_fps"`
	SourceDurationSec   float64 `json:"source_duration_sec"`
	ProcessingNumFrames int     `json:"processing_num_frames"`
}

// TextPromptRequest is the body of POST /prompt/text.
type TextPromptRequest struct {
	FrameIndex int    `json:"frame_index"`
	Text       string `json:"text"`
	ResetFirst *bool  `json:"reset_first"` // defaults to true
}

// ClickPromptRequest is the body of POST /prompt/clicks.
type ClickPromptRequest struct {
	FrameIndex int             `json:"frame_index"`
	ObjID      int             `json:"obj_id"`
	Points     []session.Point `json:"points"`
}

// PromptResponse carries one frame's segmentation result.
type PromptResponse struct {
	FrameIndex int                    `json:"frame_index"`
	Objects    []session.ObjectOutput `json:"objects"`
}

// CreateObjectResponse returns a freshly allocated manual object.
type CreateObjectResponse struct {
	ObjID int `json:"obj_id"`
}

// RenameObjectRequest updates an object's local display metadata.
type RenameObjectRequest struct {
	Field string `json:"field"` // "class_name" or "instance_name"
	Value string `json:"value"`
}

// VisibilityRequest toggles overlay rendering for an object.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// ObjectListResponse lists registered objects in ascending obj_id order.
type ObjectListResponse struct {
	Objects []session.Object `json:"objects"`
}

// OperationResponse acknowledges a state-changing call.
type OperationResponse struct {
	OK bool `json:"ok"`
}

// errorEnvelope is the JSON error body: {"detail": {code, message, ...}}.
type errorEnvelope struct {
	Detail *session.Error `json:"detail"`
}
