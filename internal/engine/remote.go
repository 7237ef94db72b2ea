// Package engine provides implementations of the session.Engine contract:
// a Remote client that drives a predictor sidecar over HTTP, and an
// in-memory Fake for tests and model-less development.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"videoseg/internal/session"
)

// Remote drives a predictor process over HTTP. Unary requests are posted to
// {base}/predictor/request as the envelopes the predictor consumes natively
// (start_session, add_prompt, reset_session, remove_object, close_session);
// propagation streams from {base}/predictor/stream as one JSON
// frame result per line. Mask encoding stays with the predictor process, so
// results arrive already in wire form.
//
// The predictor does not track manual object ids; allocation is client-side,
// negative, and monotonic per session, matching the upstream backend.
type Remote struct {
	base string
	http *http.Client

	mu         sync.Mutex
	nextManual map[string]int
}

// NewRemote returns a client for the predictor at base (e.g.
// "http://127.0.0.1:9090"). Unary calls time out after timeout; streaming
// responses are bounded by the request context instead.
func NewRemote(base string, timeout time.Duration) *Remote {
	return &Remote{
		base:       base,
		http:       &http.Client{Timeout: timeout},
		nextManual: make(map[string]int),
	}
}

type envelope map[string]any

func (r *Remote) post(ctx context.Context, req envelope, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/predictor/request", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("predictor request %q: %w", req["type"], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("predictor request %q: status %d: %s", req["type"], resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StartSession implements session.Engine.
func (r *Remote) StartSession(ctx context.Context, sessionID, framesDir string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := r.post(ctx, envelope{
		"type":          "start_session",
		"session_id":    sessionID,
		"resource_path": framesDir,
	}, &resp)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.nextManual[resp.SessionID] = -1
	r.mu.Unlock()
	return resp.SessionID, nil
}

// AddTextPrompt implements session.Engine. The predictor has no reset flag on
// add_prompt; resetFirst is a separate reset_session request issued before the
// prompt.
func (r *Remote) AddTextPrompt(ctx context.Context, sessionID string, frameIndex int, text string, resetFirst bool) (session.FrameResult, error) {
	if resetFirst {
		if err := r.post(ctx, envelope{
			"type":       "reset_session",
			"session_id": sessionID,
		}, nil); err != nil {
			return session.FrameResult{}, err
		}
	}
	var resp session.FrameResult
	err := r.post(ctx, envelope{
		"type":        "add_prompt",
		"session_id":  sessionID,
		"frame_index": frameIndex,
		"text":        text,
	}, &resp)
	return resp, err
}

// AddClickPrompt implements session.Engine.
func (r *Remote) AddClickPrompt(ctx context.Context, sessionID string, frameIndex, objID int, points []session.Point) (session.FrameResult, error) {
	coords := make([][2]float64, len(points))
	labels := make([]int, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.X, p.Y}
		labels[i] = p.Label
	}
	var resp session.FrameResult
	err := r.post(ctx, envelope{
		"type":         "add_prompt",
		"session_id":   sessionID,
		"frame_index":  frameIndex,
		"obj_id":       objID,
		"points":       coords,
		"point_labels": labels,
	}, &resp)
	return resp, err
}

// CreateObject implements session.Engine.
func (r *Remote) CreateObject(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.nextManual[sessionID]
	if !ok {
		id = -1
	}
	r.nextManual[sessionID] = id - 1
	return id, nil
}

// RemoveObject implements session.Engine.
func (r *Remote) RemoveObject(ctx context.Context, sessionID string, objID int) error {
	return r.post(ctx, envelope{
		"type":       "remove_object",
		"session_id": sessionID,
		"obj_id":     objID,
	}, nil)
}

// ResetState implements session.Engine.
func (r *Remote) ResetState(ctx context.Context, sessionID string) error {
	return r.post(ctx, envelope{
		"type":       "reset_session",
		"session_id": sessionID,
	}, nil)
}

// CloseSession implements session.Engine.
func (r *Remote) CloseSession(ctx context.Context, sessionID string) error {
	err := r.post(ctx, envelope{
		"type":       "close_session",
		"session_id": sessionID,
	}, nil)

	r.mu.Lock()
	delete(r.nextManual, sessionID)
	r.mu.Unlock()
	return err
}

// Propagate implements session.Engine.
func (r *Remote) Propagate(ctx context.Context, sessionID string, direction session.Direction, startFrame *int) (session.FrameStream, error) {
	req := envelope{
		"type":                  "propagate_in_video",
		"session_id":            sessionID,
		"propagation_direction": string(direction),
	}
	if startFrame != nil {
		req["start_frame_index"] = *startFrame
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/predictor/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// No client timeout here: streams run for model-inference duration and
	// are bounded by ctx.
	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("predictor stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("predictor stream: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	return &remoteStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// remoteStream reads one JSON frame result per line.
type remoteStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *remoteStream) Next(_ context.Context) (session.FrameResult, bool, error) {
	if s.done {
		return session.FrameResult{}, false, nil
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var res session.FrameResult
		if err := json.Unmarshal(line, &res); err != nil {
			return session.FrameResult{}, false, fmt.Errorf("predictor stream: bad frame line: %w", err)
		}
		return res, true, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return session.FrameResult{}, false, fmt.Errorf("predictor stream: %w", err)
	}
	return session.FrameResult{}, false, nil
}

func (s *remoteStream) Close() error {
	s.done = true
	return s.body.Close()
}
