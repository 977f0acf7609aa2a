package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePriorityOrder(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})

	q.Push(Entry{Priority: PriorityFresh, TaskID: 2})
	q.Push(Entry{Priority: PriorityFresh, TaskID: 3})
	q.Push(Entry{Priority: PriorityResume, TaskID: 1})

	for _, want := range []int64{1, 2, 3} {
		e, ok := q.Pop(time.Second, stop)
		require.True(t, ok)
		assert.Equal(t, want, e.TaskID)
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})

	for i := int64(1); i <= 5; i++ {
		q.Push(Entry{Priority: PriorityFresh, TaskID: i})
	}
	for i := int64(1); i <= 5; i++ {
		e, ok := q.Pop(time.Second, stop)
		require.True(t, ok)
		assert.Equal(t, i, e.TaskID)
	}
}

func TestQueueSentinelOutranksWork(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})

	q.Push(Entry{Priority: PriorityResume, TaskID: 7})
	q.Push(sentinelEntry())

	e, ok := q.Pop(time.Second, stop)
	require.True(t, ok)
	assert.True(t, e.TaskID < 0)
}

func TestQueuePopTimesOut(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})

	start := time.Now()
	_, ok := q.Pop(50*time.Millisecond, stop)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(Entry{Priority: PriorityFresh, TaskID: 1})
	}()

	e, ok := q.Pop(time.Second, stop)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.TaskID)
}

func TestQueuePopStops(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})
	close(stop)

	_, ok := q.Pop(time.Second, stop)
	assert.False(t, ok)
}
