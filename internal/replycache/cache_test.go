// ABOUTME: Tests for the idempotency reply cache.
// ABOUTME: Validates claims, stored replies, TTL expiration, eviction and concurrency safety.

package replycache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BeginClaimsNewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	entry, err := cache.Begin("key-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_BeginWhileClaimedIsInFlight(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, err := cache.Begin("key-1")
	require.NoError(t, err)

	_, err = cache.Begin("key-1")
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestCache_CompleteThenBeginReturnsReply(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, err := cache.Begin("key-1")
	require.NoError(t, err)
	cache.Complete("key-1", Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`)})

	entry, err := cache.Begin("key-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 200, entry.Status)
	assert.Equal(t, "application/json", entry.ContentType)
	assert.Equal(t, `{"ok":true}`, string(entry.Body))

	// Returned bodies are copies
	entry.Body[0] = 'X'
	again, _ := cache.Begin("key-1")
	assert.Equal(t, `{"ok":true}`, string(again.Body))
}

func TestCache_AbandonReleasesClaim(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, err := cache.Begin("key-1")
	require.NoError(t, err)
	cache.Abandon("key-1")
	assert.Equal(t, 0, cache.Len())

	entry, err := cache.Begin("key-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCache_AbandonKeepsCompleted(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Complete("key-1", Entry{Status: 200})
	cache.Abandon("key-1")

	entry, err := cache.Begin("key-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestCache_Expired(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Complete("key-1", Entry{Status: 200})

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	entry, err := cache.Begin("key-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired reply is not served")
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		cache.Complete(k, Entry{Status: 200})
	}

	assert.Equal(t, 3, cache.Len())
	entry, _ := cache.Begin("a")
	assert.Nil(t, entry, "oldest key evicted")
	entry, _ = cache.Begin("d")
	assert.NotNil(t, entry)
}

func TestCache_Cleanup(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Complete("old", Entry{Status: 200})
	cache.now = func() time.Time { return now.Add(30 * time.Second) }
	cache.Complete("new", Entry{Status: 200})

	cache.now = func() time.Time { return now.Add(70 * time.Second) }
	cache.runCleanup()

	assert.Equal(t, 1, cache.Len())
}

func TestCache_BeginAtomic(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if entry, err := cache.Begin("shared"); err == nil && entry == nil {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
