package transcriber

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"sync"

	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
)

// cacheKey identifies a transcription request: content hash of the chunk's
// samples, combined with a hash of the recognizer configuration in effect
// (so a re-run under different settings is never served stale).
type cacheKey uint64

func computeCacheKey(samples []float32, sampleRate int, opts recognizer.Options) cacheKey {
	h := fnv.New64a()

	buf := make([]byte, 4)
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf, floatBits(s))
		h.Write(buf)
	}

	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(sampleRate))
	h.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(opts.Temperature*1e6))
	h.Write(scratch[:])
	h.Write([]byte(opts.LanguageHint))

	return cacheKey(h.Sum64())
}

func floatBits(f float32) uint32 {
	return uint32(int32(f * (1 << 16)))
}

type cacheEntry struct {
	key    cacheKey
	result recognizer.Result
}

// lruCache is a fixed-capacity, LRU-evicting cache of transcription
// results, keyed by content hash. Internally synchronized.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[cacheKey]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

func (c *lruCache) get(key cacheKey) (recognizer.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return recognizer.Result{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).result, true
}

func (c *lruCache) put(key cacheKey, result recognizer.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).result = result
		c.order.MoveToFront(elem)
		return
	}

	entry := &cacheEntry{key: key, result: result}
	elem := c.order.PushFront(entry)
	c.items[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
