package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type clickKey struct {
	objID      int
	frameIndex int
}

// state is everything owned by the coordinator for the one active session.
type state struct {
	record       Record
	generation   int64
	clickHistory map[clickKey][]Point
	cache        *ResultCache
	registry     *Registry
}

// Coordinator owns the active session's lifecycle and serializes every
// mutating operation against the shared inference engine. At most one
// session is active; creating a new one tears down the prior one first.
//
// Two locks, never held together across an engine call: mu guards session
// state and is only held for short, non-blocking sections, so metadata reads
// never wait on in-flight inference; engineMu serializes engine calls in
// arrival order, since the engine is not reentrant per session.
type Coordinator struct {
	mu       sync.Mutex
	engineMu sync.Mutex

	engine Engine
	log    *slog.Logger

	// onTeardown runs after a session is closed or replaced, outside mu.
	// Used to release extracted frame files.
	onTeardown func(Record)

	active *state
}

// New returns a Coordinator driving the given engine.
func New(engine Engine, log *slog.Logger, onTeardown func(Record)) *Coordinator {
	return &Coordinator{engine: engine, log: log, onTeardown: onTeardown}
}

// Create activates a session from already-extracted video frames. Any prior
// active session is torn down first: its propagation is superseded, its
// engine state released, and its caches discarded.
func (c *Coordinator) Create(ctx context.Context, record Record) (Record, error) {
	c.teardownActive(ctx)

	c.engineMu.Lock()
	engineID, err := c.engine.StartSession(ctx, record.SessionID, record.FramesDir)
	c.engineMu.Unlock()
	if err != nil {
		return Record{}, engineError("Failed to start session", err)
	}
	record.SessionID = engineID

	c.mu.Lock()
	c.active = &state{
		record:       record,
		clickHistory: make(map[clickKey][]Point),
		cache:        NewResultCache(),
		registry:     NewRegistry(),
	}
	c.mu.Unlock()

	c.log.Info("session created",
		slog.String("session_id", record.SessionID),
		slog.Int("num_frames", record.NumFrames),
		slog.Int("width", record.Width),
		slog.Int("height", record.Height))
	return record, nil
}

// teardownActive closes and detaches the current session, if any.
func (c *Coordinator) teardownActive(ctx context.Context) {
	c.mu.Lock()
	st := c.active
	if st != nil {
		st.generation++ // supersede any in-flight propagation
		c.active = nil
	}
	c.mu.Unlock()
	if st == nil {
		return
	}

	c.engineMu.Lock()
	err := c.engine.CloseSession(ctx, st.record.SessionID)
	c.engineMu.Unlock()
	if err != nil {
		c.log.Warn("engine close failed during teardown",
			slog.String("session_id", st.record.SessionID),
			slog.String("error", err.Error()))
	}
	if c.onTeardown != nil {
		c.onTeardown(st.record)
	}
}

// Teardown closes whatever session is active, if any. Used at server
// shutdown.
func (c *Coordinator) Teardown(ctx context.Context) {
	c.teardownActive(ctx)
}

// Require returns the active session's metadata, or SessionNotFound.
func (c *Coordinator) Require(sessionID string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return Record{}, err
	}
	return st.record, nil
}

func (c *Coordinator) requireLocked(sessionID string) (*state, error) {
	if c.active == nil || c.active.record.SessionID != sessionID {
		return nil, errSessionNotFound()
	}
	return c.active, nil
}

// ValidateFrameIndex rejects out-of-range frame indices before any engine
// call.
func (c *Coordinator) ValidateFrameIndex(sessionID string, frameIndex int) error {
	record, err := c.Require(sessionID)
	if err != nil {
		return err
	}
	if frameIndex < 0 || frameIndex >= record.NumFrames {
		return &Error{
			Code:    CodeInvalidFrameIndex,
			Message: fmt.Sprintf("frame_index must be in [0, %d]", record.NumFrames-1),
		}
	}
	return nil
}

// bumpGeneration invalidates any in-flight propagation and returns the new
// generation token.
func (c *Coordinator) bumpGeneration(sessionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return 0, err
	}
	st.generation++
	return st.generation, nil
}

// generationCurrent reports whether gen is still the session's live token.
func (c *Coordinator) generationCurrent(sessionID string, gen int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return false
	}
	return st.generation == gen
}

// PromptText runs a text prompt on one frame and merges the result into the
// frame cache and registry. resetFirst clears all prompt state first.
func (c *Coordinator) PromptText(ctx context.Context, sessionID string, frameIndex int, text string, resetFirst bool) (FrameResult, error) {
	if err := c.ValidateFrameIndex(sessionID, frameIndex); err != nil {
		return FrameResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FrameResult{}, &Error{Code: CodeBadRequest, Message: "Text prompt cannot be empty"}
	}
	if _, err := c.bumpGeneration(sessionID); err != nil {
		return FrameResult{}, err
	}

	c.engineMu.Lock()
	res, err := c.engine.AddTextPrompt(ctx, sessionID, frameIndex, text, resetFirst)
	c.engineMu.Unlock()
	if err != nil {
		return FrameResult{}, engineError("Text prompt failed", err)
	}

	c.mu.Lock()
	if st, stErr := c.requireLocked(sessionID); stErr == nil {
		if resetFirst {
			st.clickHistory = make(map[clickKey][]Point)
			st.cache.Clear()
			st.registry.Clear()
		}
		st.cache.Set(res.FrameIndex, res.Objects)
		st.registry.RegisterIfAbsent(res.Objects)
	}
	c.mu.Unlock()
	return res, nil
}

// PromptClicks refines one object with click points on one frame. Clicks
// accumulate per (obj_id, frame_index) and the full history is replayed to
// the engine on every call.
func (c *Coordinator) PromptClicks(ctx context.Context, sessionID string, frameIndex, objID int, points []Point) (FrameResult, error) {
	if err := c.ValidateFrameIndex(sessionID, frameIndex); err != nil {
		return FrameResult{}, err
	}
	if len(points) == 0 {
		return FrameResult{}, &Error{Code: CodeBadRequest, Message: "At least one point is required"}
	}
	for _, p := range points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return FrameResult{}, &Error{Code: CodeInvalidPoint, Message: "Point coordinates must be normalized between 0 and 1"}
		}
		if p.Label != 0 && p.Label != 1 {
			return FrameResult{}, &Error{Code: CodeInvalidPoint, Message: "Point label must be either 0 (negative) or 1 (positive)"}
		}
	}
	if _, err := c.bumpGeneration(sessionID); err != nil {
		return FrameResult{}, err
	}

	c.mu.Lock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		c.mu.Unlock()
		return FrameResult{}, err
	}
	key := clickKey{objID: objID, frameIndex: frameIndex}
	st.clickHistory[key] = append(st.clickHistory[key], points...)
	all := make([]Point, len(st.clickHistory[key]))
	copy(all, st.clickHistory[key])
	c.mu.Unlock()

	c.engineMu.Lock()
	res, engineErr := c.engine.AddClickPrompt(ctx, sessionID, frameIndex, objID, all)
	c.engineMu.Unlock()
	if engineErr != nil {
		return FrameResult{}, engineError("Click prompt failed", engineErr)
	}

	c.mu.Lock()
	if st, stErr := c.requireLocked(sessionID); stErr == nil {
		st.cache.Set(res.FrameIndex, res.Objects)
		st.registry.RegisterIfAbsent(res.Objects)
	}
	c.mu.Unlock()
	return res, nil
}

// CreateObject allocates a fresh manual object from the engine and registers
// it for immediate selection. Manual ids are negative and never reused
// within a session, even across resets.
func (c *Coordinator) CreateObject(ctx context.Context, sessionID string) (Object, error) {
	if _, err := c.Require(sessionID); err != nil {
		return Object{}, err
	}

	c.engineMu.Lock()
	objID, err := c.engine.CreateObject(ctx, sessionID)
	c.engineMu.Unlock()
	if err != nil {
		return Object{}, engineError("Create object failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, stErr := c.requireLocked(sessionID)
	if stErr != nil {
		return Object{}, stErr
	}
	return st.registry.RegisterManual(objID), nil
}

// RemoveObject deletes the object from the engine, the registry, every
// cached frame, and the click history. Removing an id the engine no longer
// knows is harmless.
func (c *Coordinator) RemoveObject(ctx context.Context, sessionID string, objID int) error {
	if _, err := c.bumpGeneration(sessionID); err != nil {
		return err
	}

	c.engineMu.Lock()
	err := c.engine.RemoveObject(ctx, sessionID, objID)
	c.engineMu.Unlock()
	if err != nil {
		return engineError("Remove object failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, stErr := c.requireLocked(sessionID)
	if stErr != nil {
		return stErr
	}
	st.registry.Remove(objID)
	st.cache.PurgeObject(objID)
	for key := range st.clickHistory {
		if key.objID == objID {
			delete(st.clickHistory, key)
		}
	}
	return nil
}

// RenameObject updates one display-metadata field of a registered object.
// Pure local metadata; the inference engine is not involved and no generation
// bump happens.
func (c *Coordinator) RenameObject(sessionID string, objID int, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return err
	}

	var ok bool
	switch field {
	case "class_name":
		ok = st.registry.SetClassName(objID, value)
	case "instance_name":
		ok = st.registry.SetInstanceName(objID, value)
	default:
		return &Error{Code: CodeBadRequest, Message: "field must be class_name or instance_name"}
	}
	if !ok {
		return &Error{Code: CodeBadRequest, Message: fmt.Sprintf("Unknown object %d", objID)}
	}
	return nil
}

// SetObjectVisible toggles overlay rendering for an object. Local metadata
// only.
func (c *Coordinator) SetObjectVisible(sessionID string, objID int, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return err
	}
	if !st.registry.SetVisible(objID, visible) {
		return &Error{Code: CodeBadRequest, Message: fmt.Sprintf("Unknown object %d", objID)}
	}
	return nil
}

// Reset clears all prompt state, cached results, and registered objects but
// keeps the video loaded. Any in-flight propagation is superseded.
func (c *Coordinator) Reset(ctx context.Context, sessionID string) error {
	if _, err := c.bumpGeneration(sessionID); err != nil {
		return err
	}

	c.engineMu.Lock()
	err := c.engine.ResetState(ctx, sessionID)
	c.engineMu.Unlock()
	if err != nil {
		return engineError("Reset failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, stErr := c.requireLocked(sessionID)
	if stErr != nil {
		return stErr
	}
	st.clickHistory = make(map[clickKey][]Point)
	st.cache.Clear()
	st.registry.Clear()
	return nil
}

// Close tears down the session entirely. Subsequent operations against the
// session id fail with SessionNotFound.
func (c *Coordinator) Close(ctx context.Context, sessionID string) error {
	if _, err := c.Require(sessionID); err != nil {
		return err
	}
	c.teardownActive(ctx)
	return nil
}

// FrameObjects returns a copy of the cached result for one frame.
func (c *Coordinator) FrameObjects(sessionID string, frameIndex int) ([]ObjectOutput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return nil, false
	}
	return st.cache.Get(frameIndex)
}

// ResultsSnapshot returns an immutable snapshot of the whole frame cache for
// external readers.
func (c *Coordinator) ResultsSnapshot(sessionID string) (map[int][]ObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return st.cache.Snapshot(), nil
}

// Objects lists the registered objects in ascending obj_id order.
func (c *Coordinator) Objects(sessionID string) ([]Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.requireLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return st.registry.List(), nil
}

// HasActive reports whether any session is active. Used for metrics.
func (c *Coordinator) HasActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
