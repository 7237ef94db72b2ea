package session

import (
	"context"
	"log/slog"
)

// Propagation is one propagation attempt: a generation-scoped wrapper around
// the engine's frame stream that applies each result to the session caches
// and stops silently once its generation is superseded.
type Propagation struct {
	c          *Coordinator
	sessionID  string
	generation int64
	stream     FrameStream
	superseded bool
}

// StartPropagation validates the start parameters, increments the generation
// token, and begins streaming. Starting a new propagation while one is in
// flight supersedes the old one rather than erroring.
func (c *Coordinator) StartPropagation(ctx context.Context, sessionID string, direction Direction, startFrame *int) (*Propagation, error) {
	// Validation happens before the generation increment: a rejected start
	// must not cancel a running propagation.
	if startFrame != nil {
		if err := c.ValidateFrameIndex(sessionID, *startFrame); err != nil {
			return nil, err
		}
	} else if _, err := c.Require(sessionID); err != nil {
		return nil, err
	}

	gen, err := c.bumpGeneration(sessionID)
	if err != nil {
		return nil, err
	}

	c.engineMu.Lock()
	stream, err := c.engine.Propagate(ctx, sessionID, direction, startFrame)
	c.engineMu.Unlock()
	if err != nil {
		return nil, engineError("Propagation failed", err)
	}

	c.log.Info("propagation started",
		slog.String("session_id", sessionID),
		slog.String("direction", string(direction)),
		slog.Int64("generation", gen))

	return &Propagation{
		c:          c,
		sessionID:  sessionID,
		generation: gen,
		stream:     stream,
	}, nil
}

// Next returns the next frame result and merges it into the session caches.
// ok is false when the stream is exhausted or the generation was superseded;
// check Superseded to tell the two apart. The generation token is re-checked
// at every suspension resumption, both before pulling and before applying, so
// a stale propagation neither emits nor applies side effects.
func (p *Propagation) Next(ctx context.Context) (FrameResult, bool, error) {
	if p.superseded {
		return FrameResult{}, false, nil
	}
	if !p.c.generationCurrent(p.sessionID, p.generation) {
		p.markSuperseded()
		return FrameResult{}, false, nil
	}

	res, ok, err := p.stream.Next(ctx)
	if err != nil {
		return FrameResult{}, false, engineError("Propagation failed", err)
	}
	if !ok {
		// Completion only counts if the generation was never superseded.
		if !p.c.generationCurrent(p.sessionID, p.generation) {
			p.markSuperseded()
		}
		return FrameResult{}, false, nil
	}

	if !p.apply(res) {
		p.markSuperseded()
		return FrameResult{}, false, nil
	}
	return res, true, nil
}

// apply merges one frame result under the state lock, refusing if the
// generation moved on while the engine was producing it.
func (p *Propagation) apply(res FrameResult) bool {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	st, err := p.c.requireLocked(p.sessionID)
	if err != nil || st.generation != p.generation {
		return false
	}
	st.cache.Set(res.FrameIndex, res.Objects)
	st.registry.RegisterIfAbsent(res.Objects)
	return true
}

func (p *Propagation) markSuperseded() {
	p.superseded = true
	_ = p.stream.Close()
}

// Superseded reports whether a newer generation cancelled this propagation.
// A superseded propagation must not emit a done message.
func (p *Propagation) Superseded() bool { return p.superseded }

// Generation returns the token issued at stream start.
func (p *Propagation) Generation() int64 { return p.generation }

// Close releases the underlying engine stream.
func (p *Propagation) Close() error { return p.stream.Close() }
