// Package stream implements the propagation stream protocol: the websocket
// message contract between the session coordinator and its clients, the
// server side of the channel, and the client-side state reconciler.
package stream

import (
	"encoding/json"
	"fmt"

	"videoseg/internal/session"
)

// Message type tags, one per server-to-client message.
const (
	TypePropagationFrame = "propagation_frame"
	TypePropagationDone  = "propagation_done"
	TypeError            = "error"
)

// ActionStart is the only client-to-server action.
const ActionStart = "start"

// StartMessage opens a propagation attempt. Direction defaults to "both";
// a nil StartFrameIndex selects the engine's deterministic default.
type StartMessage struct {
	Action          string `json:"action"`
	Direction       string `json:"direction,omitempty"`
	StartFrameIndex *int   `json:"start_frame_index,omitempty"`
}

// FrameMessage carries one processed frame's results. Each message wholly
// replaces the client's cache entry for its frame index.
type FrameMessage struct {
	Type       string                 `json:"type"`
	FrameIndex int                    `json:"frame_index"`
	Objects    []session.ObjectOutput `json:"objects"`
}

// DoneMessage is emitted exactly once, after the last frame message, only if
// the generation token was never superseded.
type DoneMessage struct {
	Type string `json:"type"`
}

// ErrorMessage is terminal; no further frame messages follow it.
type ErrorMessage struct {
	Type      string       `json:"type"`
	Code      session.Code `json:"code"`
	Message   string       `json:"message"`
	Details   string       `json:"details,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// Message is the closed union of server-to-client messages. Transport
// payloads are decoded into it exactly once at the boundary.
type Message interface {
	messageType() string
}

func (m FrameMessage) messageType() string { return m.Type }
func (m DoneMessage) messageType() string  { return m.Type }
func (m ErrorMessage) messageType() string { return m.Type }

// Decode parses a raw server-to-client payload into its typed variant.
func Decode(data []byte) (Message, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("stream: malformed message: %w", err)
	}
	switch tag.Type {
	case TypePropagationFrame:
		var m FrameMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("stream: malformed frame message: %w", err)
		}
		return m, nil
	case TypePropagationDone:
		var m DoneMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("stream: malformed done message: %w", err)
		}
		return m, nil
	case TypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("stream: malformed error message: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("stream: unknown message type %q", tag.Type)
}
