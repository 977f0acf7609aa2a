package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/task"
)

// Entry priorities. Lower values drain first; entries of equal priority
// drain in insertion order.
const (
	PrioritySentinel = 0
	PriorityResume   = 1
	PriorityFresh    = 3
)

// Entry is one queued unit of download work. A negative TaskID marks a
// shutdown sentinel that terminates the worker receiving it.
type Entry struct {
	Priority int
	TaskID   int64

	// Gen identifies the task attempt the entry belongs to. Entries from
	// an older generation fail validation and are dropped instead of
	// dispatched.
	Gen uint64

	URL        string
	IsPlaylist bool
	Settings   config.Settings
	Meta       task.Metadata

	seq uint64
}

// sentinelEntry terminates one worker. Sentinels outrank all work.
func sentinelEntry() Entry {
	return Entry{Priority: PrioritySentinel, TaskID: -1}
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// queue is a priority queue with a bounded blocking Pop. Pop waits up to
// its timeout for an entry, so idle workers re-check pause and retire
// state at least once a second.
type queue struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) Push(e Entry) {
	q.mu.Lock()
	q.seq++
	e.seq = q.seq
	heap.Push(&q.items, &e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop returns the highest-priority entry, waiting up to timeout for one to
// arrive. It returns false on timeout or when stop closes.
func (q *queue) Pop(timeout time.Duration, stop <-chan struct{}) (Entry, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(*Entry)
			q.mu.Unlock()
			return *e, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-deadline.C:
			return Entry{}, false
		case <-stop:
			return Entry{}, false
		}
	}
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
