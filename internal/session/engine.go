package session

import "context"

// Engine is the inference backend contract. Implementations hold mutable
// per-session model state and are not reentrant for one session, so the
// Coordinator serializes every call that names a session. Calls may block for
// model-inference duration; any engine-side timeout must surface as an error,
// never a silent hang.
type Engine interface {
	// StartSession loads the extracted frames and returns the engine's id for
	// the session (usually the one passed in).
	StartSession(ctx context.Context, sessionID, framesDir string) (string, error)

	// AddTextPrompt runs an open-vocabulary prompt on one frame. resetFirst
	// clears all prior engine state for the session before prompting.
	AddTextPrompt(ctx context.Context, sessionID string, frameIndex int, text string, resetFirst bool) (FrameResult, error)

	// AddClickPrompt refines one object with the accumulated click points for
	// that (object, frame) pair.
	AddClickPrompt(ctx context.Context, sessionID string, frameIndex, objID int, points []Point) (FrameResult, error)

	// CreateObject allocates a fresh manual object id. Manual ids are
	// negative, monotonically decreasing, and never reused within a session,
	// including across ResetState.
	CreateObject(ctx context.Context, sessionID string) (int, error)

	// RemoveObject drops the object from the engine's tracking state.
	RemoveObject(ctx context.Context, sessionID string, objID int) error

	// ResetState clears all prompts and tracked objects but keeps the video
	// loaded.
	ResetState(ctx context.Context, sessionID string) error

	// CloseSession releases all engine state for the session.
	CloseSession(ctx context.Context, sessionID string) error

	// Propagate begins extending prompted masks across the video. The
	// returned stream is finite and not restartable; each propagation attempt
	// requires a fresh call. A nil startFrame selects the engine's own
	// deterministic default traversal.
	Propagate(ctx context.Context, sessionID string, direction Direction, startFrame *int) (FrameStream, error)
}

// FrameStream is a lazy, finite sequence of per-frame propagation results in
// engine emission order, which is not necessarily increasing frame_index when
// direction is "both".
type FrameStream interface {
	// Next returns the next frame result. ok is false once the stream is
	// exhausted.
	Next(ctx context.Context) (res FrameResult, ok bool, err error)

	// Close releases the stream early. Safe to call after exhaustion.
	Close() error
}
