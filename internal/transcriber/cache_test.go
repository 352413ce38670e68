package transcriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
)

func TestComputeCacheKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, 0.2, 0.3}
	opts := recognizer.Options{LanguageHint: "en", Temperature: 0.1}

	a := computeCacheKey(samples, 16000, opts)
	b := computeCacheKey(samples, 16000, opts)
	assert.Equal(t, a, b)
}

func TestComputeCacheKeyDiffersOnSampleRateOrOptions(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, 0.2, 0.3}
	base := computeCacheKey(samples, 16000, recognizer.Options{})

	assert.NotEqual(t, base, computeCacheKey(samples, 8000, recognizer.Options{}))
	assert.NotEqual(t, base, computeCacheKey(samples, 16000, recognizer.Options{LanguageHint: "fr"}))
	assert.NotEqual(t, base, computeCacheKey(samples, 16000, recognizer.Options{Temperature: 0.2}))
}

func TestLRUCacheGetPutRoundTrip(t *testing.T) {
	t.Parallel()

	c := newLRUCache(4)
	key := cacheKey(1)
	result := recognizer.Result{Text: "hello"}

	_, ok := c.get(key)
	assert.False(t, ok)

	c.put(key, result)
	got, ok := c.get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text)
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := newLRUCache(2)
	c.put(cacheKey(1), recognizer.Result{Text: "one"})
	c.put(cacheKey(2), recognizer.Result{Text: "two"})

	// touch key 1 so key 2 becomes the least recently used.
	_, _ = c.get(cacheKey(1))

	c.put(cacheKey(3), recognizer.Result{Text: "three"})

	_, ok := c.get(cacheKey(2))
	assert.False(t, ok, "key 2 should have been evicted")

	_, ok = c.get(cacheKey(1))
	assert.True(t, ok)

	_, ok = c.get(cacheKey(3))
	assert.True(t, ok)

	assert.Equal(t, 2, c.len())
}

func TestLRUCacheDefaultsCapacityWhenNonPositive(t *testing.T) {
	t.Parallel()

	c := newLRUCache(0)
	assert.Equal(t, 256, c.capacity)
}

func TestLRUCacheUpdateInPlacePreservesLength(t *testing.T) {
	t.Parallel()

	c := newLRUCache(4)
	c.put(cacheKey(1), recognizer.Result{Text: "v1"})
	c.put(cacheKey(1), recognizer.Result{Text: "v2"})

	assert.Equal(t, 1, c.len())
	got, ok := c.get(cacheKey(1))
	require.True(t, ok)
	assert.Equal(t, "v2", got.Text)
}
