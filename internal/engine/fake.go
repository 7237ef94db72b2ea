package engine

import (
	"context"
	"fmt"
	"sync"

	"videoseg/internal/rle"
	"videoseg/internal/session"
)

// Fake is an in-memory Engine producing deterministic results. It backs the
// server when no predictor is configured and the protocol tests.
type Fake struct {
	// NumFrames is the frame count every session pretends its video has.
	NumFrames int

	// Error injection, checked per call.
	TextErr      error
	ClickErr     error
	PropagateErr error
	StreamErr    error // surfaced mid-stream after the first frame

	mu         sync.Mutex
	sessions   map[string]bool
	nextManual map[string]int
	detected   map[string]int // next positive id per session
}

// NewFake returns a Fake whose sessions report numFrames frames.
func NewFake(numFrames int) *Fake {
	return &Fake{
		NumFrames:  numFrames,
		sessions:   make(map[string]bool),
		nextManual: make(map[string]int),
		detected:   make(map[string]int),
	}
}

// fullMask returns a small all-foreground wire mask.
func fullMask() rle.Mask {
	m, err := rle.Encode([]byte{1, 1, 1, 1}, 2, 2)
	if err != nil {
		panic(err)
	}
	return m
}

func output(objID int, score float64) session.ObjectOutput {
	return session.ObjectOutput{
		ObjID:    objID,
		Score:    score,
		BBoxXYWH: [4]float64{0.1, 0.1, 0.5, 0.5},
		MaskRLE:  fullMask(),
	}
}

func (f *Fake) require(sessionID string) error {
	if !f.sessions[sessionID] {
		return fmt.Errorf("fake engine: unknown session %q", sessionID)
	}
	return nil
}

// StartSession implements session.Engine.
func (f *Fake) StartSession(_ context.Context, sessionID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = true
	f.nextManual[sessionID] = -1
	f.detected[sessionID] = 1
	return sessionID, nil
}

// AddTextPrompt implements session.Engine. Each text prompt detects one new
// positive-id object on the prompted frame.
func (f *Fake) AddTextPrompt(_ context.Context, sessionID string, frameIndex int, _ string, _ bool) (session.FrameResult, error) {
	if f.TextErr != nil {
		return session.FrameResult{}, f.TextErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require(sessionID); err != nil {
		return session.FrameResult{}, err
	}
	id := f.detected[sessionID]
	f.detected[sessionID] = id + 1
	return session.FrameResult{
		FrameIndex: frameIndex,
		Objects:    []session.ObjectOutput{output(id, 0.91)},
	}, nil
}

// AddClickPrompt implements session.Engine.
func (f *Fake) AddClickPrompt(_ context.Context, sessionID string, frameIndex, objID int, points []session.Point) (session.FrameResult, error) {
	if f.ClickErr != nil {
		return session.FrameResult{}, f.ClickErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require(sessionID); err != nil {
		return session.FrameResult{}, err
	}
	// Score grows with click count so refinement is observable.
	score := 0.5 + 0.1*float64(len(points))
	if score > 0.99 {
		score = 0.99
	}
	return session.FrameResult{
		FrameIndex: frameIndex,
		Objects:    []session.ObjectOutput{output(objID, score)},
	}, nil
}

// CreateObject implements session.Engine.
func (f *Fake) CreateObject(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require(sessionID); err != nil {
		return 0, err
	}
	id := f.nextManual[sessionID]
	f.nextManual[sessionID] = id - 1
	return id, nil
}

// RemoveObject implements session.Engine. Unknown ids are a no-op.
func (f *Fake) RemoveObject(_ context.Context, sessionID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.require(sessionID)
}

// ResetState implements session.Engine. The manual id counter survives, so
// ids are never reused within a session.
func (f *Fake) ResetState(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require(sessionID); err != nil {
		return err
	}
	f.detected[sessionID] = 1
	return nil
}

// CloseSession implements session.Engine.
func (f *Fake) CloseSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	delete(f.nextManual, sessionID)
	delete(f.detected, sessionID)
	return nil
}

// Propagate implements session.Engine. Forward walks start..N-1, backward
// walks start..0, and both runs the backward pass first then the forward
// pass, so emission order is not monotonic in frame_index.
func (f *Fake) Propagate(_ context.Context, sessionID string, direction session.Direction, startFrame *int) (session.FrameStream, error) {
	if f.PropagateErr != nil {
		return nil, f.PropagateErr
	}
	f.mu.Lock()
	err := f.require(sessionID)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	start := 0
	if startFrame != nil {
		start = *startFrame
	}

	var order []int
	if direction == session.DirectionBackward || direction == session.DirectionBoth {
		for i := start; i >= 0; i-- {
			order = append(order, i)
		}
	}
	if direction == session.DirectionForward || direction == session.DirectionBoth {
		first := start
		if direction == session.DirectionBoth {
			first = start + 1
		}
		for i := first; i < f.NumFrames; i++ {
			order = append(order, i)
		}
	}

	return &fakeStream{order: order, streamErr: f.StreamErr}, nil
}

type fakeStream struct {
	order     []int
	pos       int
	streamErr error
	closed    bool
}

func (s *fakeStream) Next(_ context.Context) (session.FrameResult, bool, error) {
	if s.closed || s.pos >= len(s.order) {
		return session.FrameResult{}, false, nil
	}
	if s.streamErr != nil && s.pos == 1 {
		return session.FrameResult{}, false, s.streamErr
	}
	frameIndex := s.order[s.pos]
	s.pos++
	return session.FrameResult{
		FrameIndex: frameIndex,
		Objects:    []session.ObjectOutput{output(1, 0.9)},
	}, true, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
