// ABOUTME: Tests for the typing debouncer and indicator
// ABOUTME: Covers burst coalescing, quiet-period false, expiry window and self-signal filtering

package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdesk/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *recorder) record(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func TestDebouncer_BurstProducesOneTrueThenOneFalse(t *testing.T) {
	rec := &recorder{}
	quiet := 100 * time.Millisecond
	d := NewDebouncer(quiet, rec.record)
	defer d.Stop()

	// Five keystrokes well inside the quiet period.
	for range 5 {
		d.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, rec.get())
	assert.True(t, d.Active())

	require.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())

	// Nothing further arrives.
	time.Sleep(2 * quiet)
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestDebouncer_KeystrokeResetsQuietPeriod(t *testing.T) {
	rec := &recorder{}
	quiet := 80 * time.Millisecond
	d := NewDebouncer(quiet, rec.record)
	defer d.Stop()

	start := time.Now()
	for range 4 {
		d.Keystroke()
		time.Sleep(quiet / 2)
	}

	require.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 2*quiet)
}

func TestDebouncer_DoneEndsBurstImmediately(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(time.Hour, rec.record)
	defer d.Stop()

	d.Keystroke()
	d.Done()
	d.Done()

	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestDebouncer_NoPublishAfterStop(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.record)

	d.Keystroke()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	d.Keystroke()

	assert.Equal(t, []bool{true}, rec.get())
}

func TestIndicator_ExpiresAfterWindow(t *testing.T) {
	rec := &recorder{}
	expiry := 150 * time.Millisecond
	ind := NewIndicator(store.SenderAdmin, expiry, rec.record)
	defer ind.Stop()

	start := time.Now()
	ind.Observe(store.SenderUser, true)
	assert.True(t, ind.Typing())

	// Not cleared early.
	time.Sleep(expiry / 2)
	assert.True(t, ind.Typing())

	require.Eventually(t, func() bool { return !ind.Typing() }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), expiry)
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestIndicator_FalseClearsImmediatelyAndCancelsExpiry(t *testing.T) {
	rec := &recorder{}
	ind := NewIndicator(store.SenderAdmin, 50*time.Millisecond, rec.record)
	defer ind.Stop()

	ind.Observe(store.SenderUser, true)
	ind.Observe(store.SenderUser, false)
	assert.False(t, ind.Typing())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestIndicator_RepeatedTrueRearmsSingleTimer(t *testing.T) {
	rec := &recorder{}
	expiry := 100 * time.Millisecond
	ind := NewIndicator(store.SenderAdmin, expiry, rec.record)
	defer ind.Stop()

	ind.Observe(store.SenderUser, true)
	time.Sleep(60 * time.Millisecond)
	ind.Observe(store.SenderUser, true)
	time.Sleep(60 * time.Millisecond)

	// The first timer would have fired by now; the re-armed one has not.
	assert.True(t, ind.Typing())
	require.Eventually(t, func() bool { return !ind.Typing() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestIndicator_IgnoresOwnRole(t *testing.T) {
	rec := &recorder{}
	ind := NewIndicator(store.SenderUser, time.Second, rec.record)
	defer ind.Stop()

	ind.Observe(store.SenderUser, true)

	assert.False(t, ind.Typing())
	assert.Empty(t, rec.get())
}

func TestIndicator_NoChangeAfterStop(t *testing.T) {
	rec := &recorder{}
	ind := NewIndicator(store.SenderAdmin, 20*time.Millisecond, rec.record)

	ind.Observe(store.SenderUser, true)
	ind.Stop()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, []bool{true}, rec.get())
}
