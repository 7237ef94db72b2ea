package stream

import (
	"sync"

	"videoseg/internal/session"
)

// maxErrorHistory caps the reconciler's diagnostics buffer.
const maxErrorHistory = 20

// Reconciler is the client-side consumer of the propagation stream. It
// applies incoming messages to local mirrors of the per-frame mask cache and
// the object registry with idempotent merge semantics, and tracks progress
// as seen-frames over total.
type Reconciler struct {
	mu          sync.Mutex
	frameCount  int
	frames      map[int][]session.ObjectOutput
	registry    *session.Registry
	seen        map[int]struct{}
	propagating bool
	done        bool
	errors      []ErrorMessage
}

// NewReconciler returns a reconciler for a session with frameCount frames.
func NewReconciler(frameCount int) *Reconciler {
	return &Reconciler{
		frameCount: frameCount,
		frames:     make(map[int][]session.ObjectOutput),
		registry:   session.NewRegistry(),
		seen:       make(map[int]struct{}),
	}
}

// Begin marks a new propagation attempt: progress restarts, prior frame
// results stay until overwritten.
func (r *Reconciler) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.propagating = true
	r.done = false
	r.seen = make(map[int]struct{})
}

// Apply merges one decoded stream message into local state. Reapplying the
// same frame message is idempotent.
func (r *Reconciler) Apply(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m := msg.(type) {
	case FrameMessage:
		objects := make([]session.ObjectOutput, len(m.Objects))
		copy(objects, m.Objects)
		r.frames[m.FrameIndex] = objects
		r.registry.RegisterIfAbsent(m.Objects)
		if m.FrameIndex >= 0 && m.FrameIndex < r.frameCount {
			r.seen[m.FrameIndex] = struct{}{}
		}
	case DoneMessage:
		r.propagating = false
		r.done = true // progress frozen at 100%
	case ErrorMessage:
		r.propagating = false
		r.done = false
		r.seen = make(map[int]struct{})
		r.appendErrorLocked(m)
	}
}

// Disconnected records an unexpected transport close: the channel ended
// without propagation_done or a terminal error message. Distinct from clean
// completion.
func (r *Reconciler) Disconnected(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.propagating = false
	r.done = false
	r.seen = make(map[int]struct{})
	r.appendErrorLocked(ErrorMessage{
		Type:    TypeError,
		Code:    session.CodeTransportClosed,
		Message: "Propagation stream closed unexpectedly",
		Details: detail,
	})
}

func (r *Reconciler) appendErrorLocked(m ErrorMessage) {
	r.errors = append(r.errors, m)
	if len(r.errors) > maxErrorHistory {
		r.errors = r.errors[len(r.errors)-maxErrorHistory:]
	}
}

// Progress returns completed and total frame counts. After a clean done the
// progress is frozen at 100%.
func (r *Reconciler) Progress() (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.frameCount, r.frameCount
	}
	return len(r.seen), r.frameCount
}

// Propagating reports whether a propagation attempt is in flight.
func (r *Reconciler) Propagating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.propagating
}

// FrameObjects returns the mirrored result for one frame.
func (r *Reconciler) FrameObjects(frameIndex int) ([]session.ObjectOutput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	objects, ok := r.frames[frameIndex]
	if !ok {
		return nil, false
	}
	out := make([]session.ObjectOutput, len(objects))
	copy(out, objects)
	return out, true
}

// Registry exposes the client-side object registry mirror.
func (r *Reconciler) Registry() *session.Registry { return r.registry }

// Errors returns the capped diagnostics history, oldest first.
func (r *Reconciler) Errors() []ErrorMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorMessage, len(r.errors))
	copy(out, r.errors)
	return out
}
