package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDGenerator(t *testing.T) {
	t.Run("valid node id", func(t *testing.T) {
		g, err := NewIDGenerator(1)
		require.NoError(t, err)
		assert.NotNil(t, g)
	})

	t.Run("node id out of range", func(t *testing.T) {
		_, err := NewIDGenerator(-1)
		assert.Error(t, err)

		_, err = NewIDGenerator(1 << 10)
		assert.Error(t, err)
	})
}

func TestNextIDUnique(t *testing.T) {
	g, err := NewIDGenerator(1)
	require.NoError(t, err)

	const n = 10000
	seen := make(map[int64]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/10; j++ {
				id := g.NextID()
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestNextIDMonotonicPerCall(t *testing.T) {
	g, err := NewIDGenerator(1)
	require.NoError(t, err)

	prev := g.NextID()
	for i := 0; i < 1000; i++ {
		id := g.NextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}
