package session

import "sort"

// ResultCache maps frame_index to the latest objects seen for that frame.
// Each new result wholly replaces the prior entry (last-write-wins per
// frame). The cache is owned by the Coordinator and is not locked itself;
// external readers only ever see snapshots.
type ResultCache struct {
	frames map[int][]ObjectOutput
}

// NewResultCache returns an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{frames: make(map[int][]ObjectOutput)}
}

// Set replaces the cached objects for a frame.
func (c *ResultCache) Set(frameIndex int, objects []ObjectOutput) {
	stored := make([]ObjectOutput, len(objects))
	copy(stored, objects)
	c.frames[frameIndex] = stored
}

// Get returns a copy of the cached objects for a frame.
func (c *ResultCache) Get(frameIndex int) ([]ObjectOutput, bool) {
	objects, ok := c.frames[frameIndex]
	if !ok {
		return nil, false
	}
	out := make([]ObjectOutput, len(objects))
	copy(out, objects)
	return out, true
}

// SeenFrames returns the cached frame indices in ascending order.
func (c *ResultCache) SeenFrames() []int {
	out := make([]int, 0, len(c.frames))
	for idx := range c.frames {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// PurgeObject removes objID from every cached frame's object list.
func (c *ResultCache) PurgeObject(objID int) {
	for idx, objects := range c.frames {
		kept := objects[:0]
		for _, obj := range objects {
			if obj.ObjID != objID {
				kept = append(kept, obj)
			}
		}
		c.frames[idx] = kept
	}
}

// Snapshot returns a deep-enough copy of the whole cache for external readers
// such as frame serving.
func (c *ResultCache) Snapshot() map[int][]ObjectOutput {
	out := make(map[int][]ObjectOutput, len(c.frames))
	for idx, objects := range c.frames {
		cp := make([]ObjectOutput, len(objects))
		copy(cp, objects)
		out[idx] = cp
	}
	return out
}

// Clear drops all cached results.
func (c *ResultCache) Clear() {
	c.frames = make(map[int][]ObjectOutput)
}
