package batch

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackQueue_DrainTakesNewest(t *testing.T) {
	q := NewStackQueue[string]()
	for _, e := range []string{"e1", "e2", "e3", "e4", "e5"} {
		q.Push(e)
	}

	// Newest items leave first. This is not FIFO: e1 and e2 wait behind
	// anything pushed later.
	assert.Equal(t, []string{"e3", "e4", "e5"}, q.Drain(3))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"e1", "e2"}, q.Drain(3))
	assert.Equal(t, 0, q.Len())
}

func TestStackQueue_DrainEmpty(t *testing.T) {
	q := NewStackQueue[int]()
	assert.Empty(t, q.Drain(10))

	q.Push(1)
	assert.Empty(t, q.Drain(0))
	assert.Empty(t, q.Drain(-1))
	assert.Equal(t, 1, q.Len())
}

func TestStackQueue_PushAfterDrain(t *testing.T) {
	q := NewStackQueue[int]()
	q.Push(1)
	q.Push(2)
	require.Equal(t, []int{1, 2}, q.Drain(5))

	q.Push(3)
	assert.Equal(t, []int{3}, q.Drain(5))
}

func TestStackQueue_ConcurrentPushDrain(t *testing.T) {
	const producers, perProducer = 8, 500
	q := NewStackQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	var got []int
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

loop:
	for {
		select {
		case <-doneCh:
			break loop
		default:
			got = append(got, q.Drain(37)...)
		}
	}
	got = append(got, q.Drain(producers*perProducer)...)

	require.Len(t, got, producers*perProducer)
	sort.Ints(got)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
