package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsLive(t *testing.T) {
	r := NewRegistry()
	h, err := r.Allocate()
	require.NoError(t, err)
	assert.True(t, r.IsLive(h))
}

func TestFreeThenIsLiveFalseForExactHandle(t *testing.T) {
	r := NewRegistry()
	h, err := r.Allocate()
	require.NoError(t, err)

	r.Free(h)
	assert.False(t, r.IsLive(h))
	// Remains false for repeated checks of the same stale handle.
	assert.False(t, r.IsLive(h))
}

func TestFreeIsIdempotentAndNoopOnStaleHandle(t *testing.T) {
	r := NewRegistry()
	h, err := r.Allocate()
	require.NoError(t, err)

	r.Free(h)
	assert.NotPanics(t, func() { r.Free(h) })
	assert.NotPanics(t, func() { r.Free(Handle(0xdeadbeef)) })
}

func TestGenerationIncrementsOnReuse(t *testing.T) {
	r := NewRegistry()
	h1, err := r.Allocate()
	require.NoError(t, err)
	r.Free(h1)

	h2, err := r.Allocate()
	require.NoError(t, err)

	assert.Equal(t, h1.Index(), h2.Index())
	assert.Greater(t, h2.Generation(), h1.Generation())
	assert.False(t, r.IsLive(h1))
	assert.True(t, r.IsLive(h2))
}

func TestConcurrentAllocateProducesDistinctHandles(t *testing.T) {
	r := NewRegistry()
	const n = 200
	handles := make(chan Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Allocate()
			require.NoError(t, err)
			handles <- h
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[Handle]bool)
	for h := range handles {
		assert.False(t, seen[h], "duplicate handle allocated: %v", h)
		seen[h] = true
	}
	assert.Equal(t, n, r.Count())
}
