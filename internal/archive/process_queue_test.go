package archive

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soltixdb/historian/internal/logging"
)

func TestProcessQueue_OrderAndBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		got     []int
		batches []int
	)
	q := newProcessQueue("test", 10, func(items []int) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, items...)
		batches = append(batches, len(items))
	}, logging.NewNop())
	q.Start()

	for i := 0; i < 95; i++ {
		assert.True(t, q.Add(i))
	}
	q.WaitIdle()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 95)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	for _, n := range batches {
		assert.LessOrEqual(t, n, 10)
	}
	q.Stop()
}

func TestProcessQueue_StopDrains(t *testing.T) {
	var count int
	q := newProcessQueue("test", 3, func(items []int) {
		count += len(items)
	}, logging.NewNop())

	q.Add(1, 2, 3, 4, 5)
	q.Start()
	q.Stop()

	assert.Equal(t, 5, count)
	assert.False(t, q.Add(6))
	assert.Equal(t, 0, q.Len())
}

func TestProcessQueue_RecoversFromPanic(t *testing.T) {
	var processed []int
	q := newProcessQueue("test", 1, func(items []int) {
		if items[0] == 2 {
			panic("bad item")
		}
		processed = append(processed, items[0])
	}, logging.NewNop())
	q.Start()

	q.Add(1, 2, 3)
	q.WaitIdle()
	q.Stop()

	assert.Equal(t, []int{1, 3}, processed)
}
