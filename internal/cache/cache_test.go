package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	var s Snapshot[[]int]
	v, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, v)

	s.Store([]int{1, 2})
	v, ok = s.Load()
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, v)
}

func TestSnapshot_ConcurrentSwap(t *testing.T) {
	var s Snapshot[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Store(i)
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Load()
		}()
	}
	wg.Wait()
	v, ok := s.Load()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, v, 0)
}
