package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowed_UnderLimit(t *testing.T) {
	l := New(3, time.Minute)

	assert.True(t, l.Allowed("k"))
	assert.True(t, l.Allowed("k"))
	assert.True(t, l.Allowed("k"))
	assert.False(t, l.Allowed("k"))
}

func TestAllowed_KeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Allowed("a"))
	assert.False(t, l.Allowed("a"))
	assert.True(t, l.Allowed("b"))
}

func TestAllowed_WindowSlides(t *testing.T) {
	l := New(2, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allowed("k"))
	now = now.Add(30 * time.Second)
	assert.True(t, l.Allowed("k"))
	assert.False(t, l.Allowed("k"))

	// Only the first event has aged out of the trailing window; the
	// second still counts.
	now = now.Add(31 * time.Second)
	assert.True(t, l.Allowed("k"))
	assert.False(t, l.Allowed("k"))
}

func TestAllowed_DeniedCallDoesNotRecord(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allowed("k"))
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allowed("k"))
	}

	// Only the single recorded event has to age out.
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allowed("k"))
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Allowed("k"))
	assert.False(t, l.Allowed("k"))
	l.Reset("k")
	assert.True(t, l.Allowed("k"))
}

func TestAllowed_ConcurrentBurstBounded(t *testing.T) {
	const limit = 50
	const callers = 500

	l := New(limit, time.Minute)

	var successes atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Allowed("burst") {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.LessOrEqual(t, successes.Load(), int64(limit),
		"concurrent burst must never exceed the configured limit")
	assert.Equal(t, int64(limit), successes.Load(),
		"the first N callers should all succeed")
}
