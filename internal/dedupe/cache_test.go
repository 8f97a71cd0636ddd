// ABOUTME: Tests for the dedupe seen-set used by notification fan-out
// ABOUTME: Validates at-most-once marking, lifetime and TTL modes, eviction and concurrency

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_CheckAndMark_FirstSeenThenDuplicate(t *testing.T) {
	c := New(0, 10)
	defer c.Close()

	assert.False(t, c.Seen("enquiry:1"))
	assert.False(t, c.CheckAndMark("enquiry:1"), "first sighting is new")
	assert.True(t, c.CheckAndMark("enquiry:1"), "second sighting is a duplicate")
	assert.True(t, c.Seen("enquiry:1"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := New(0, 10)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.CheckAndMark("k")

	c.now = func() time.Time { return base.Add(24 * time.Hour) }
	assert.True(t, c.Seen("k"))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(time.Hour, 10)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.CheckAndMark("k")

	c.now = func() time.Time { return base.Add(59 * time.Minute) }
	assert.True(t, c.Seen("k"))

	c.now = func() time.Time { return base.Add(time.Hour) }
	assert.False(t, c.Seen("k"))
	assert.False(t, c.CheckAndMark("k"), "expired key is new again")
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(0, 3)
	defer c.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		c.CheckAndMark(k)
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	for _, k := range []string{"b", "c", "d"} {
		assert.True(t, c.Seen(k), k)
	}
}

func TestCache_SweepStopsAtFirstLiveEntry(t *testing.T) {
	c := New(time.Hour, 10)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.CheckAndMark("old")
	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	c.CheckAndMark("new")

	c.now = func() time.Time { return base.Add(time.Hour) }
	c.sweepOnce()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestCache_ConcurrentCheckAndMarkAdmitsOne(t *testing.T) {
	c := New(0, 100)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("conv-1:msg-1") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), fresh.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Millisecond, 10)
	c.Close()
	c.Close()
}
