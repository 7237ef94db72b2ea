package rle

import "sync"

// Identical wire masks recur across frames and zoom levels, so decoded masks
// are memoized by content. Entries are immutable once inserted.

type cacheKey struct {
	h, w   int
	counts string
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[cacheKey][]byte)
)

func cacheGet(m Mask) ([]byte, bool) {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	dense, ok := cache[cacheKey{h: m.Size[0], w: m.Size[1], counts: m.Counts}]
	return dense, ok
}

func cachePut(m Mask, dense []byte) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache[cacheKey{h: m.Size[0], w: m.Size[1], counts: m.Counts}] = dense
}
