// Package scheduler runs the download worker pool over a priority queue,
// with a global pause gate and per-task pause flags.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/task"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

const (
	// queueTimeout bounds a worker's wait on an empty queue so it
	// re-checks retire and stop flags at least once a second.
	queueTimeout = time.Second

	// workerCleanupWait bounds the per-worker wait during shutdown.
	workerCleanupWait = 5 * time.Second
)

// Downloader runs one download, streaming progress into the hook. The
// production implementation shells out to the downloader binary.
type Downloader interface {
	Download(ctx context.Context, url string, s config.Settings, isPlaylist bool, hook ytdlp.ProgressFunc) error
}

// MetadataFetcher resolves a URL to its metadata snapshot. A false return
// means the fetch failed; metadata is best-effort.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string, s config.Settings, isPlaylist bool) (task.Metadata, bool)
}

// Scheduler owns the queue, the pause state and the worker pool. Task
// bookkeeping lives in the controller; the scheduler only reports events
// through its callbacks.
type Scheduler struct {
	queue      *queue
	gate       *gate
	downloader Downloader
	fetcher    MetadataFetcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	workers []*worker
	nextID  int

	pausedMu sync.Mutex
	paused   map[int64]bool

	cbMu              sync.RWMutex
	onTaskStarted     func(taskID int64)
	onMetadataFetched func(taskID int64, meta task.Metadata)
	onProgress        func(taskID int64, ev ytdlp.Event)
	onFinished        func(ok bool, message string, taskID int64, filePath string)
	onValidateEntry   func(taskID int64, gen uint64) bool
}

// New creates a stopped scheduler. Call Start to spawn workers.
func New(downloader Downloader, fetcher MetadataFetcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:      newQueue(),
		gate:       newGate(),
		downloader: downloader,
		fetcher:    fetcher,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
		paused:     make(map[int64]bool),
	}
}

// Callback setters. Safe to call while workers run.

func (s *Scheduler) OnTaskStarted(fn func(taskID int64)) {
	s.cbMu.Lock()
	s.onTaskStarted = fn
	s.cbMu.Unlock()
}

func (s *Scheduler) OnMetadataFetched(fn func(taskID int64, meta task.Metadata)) {
	s.cbMu.Lock()
	s.onMetadataFetched = fn
	s.cbMu.Unlock()
}

func (s *Scheduler) OnProgress(fn func(taskID int64, ev ytdlp.Event)) {
	s.cbMu.Lock()
	s.onProgress = fn
	s.cbMu.Unlock()
}

func (s *Scheduler) OnFinished(fn func(ok bool, message string, taskID int64, filePath string)) {
	s.cbMu.Lock()
	s.onFinished = fn
	s.cbMu.Unlock()
}

// OnValidateEntry installs the check deciding whether a queue entry still
// belongs to a live task attempt. Workers drop entries failing it, both
// when popping and when a download for one terminates. No check means
// every entry is valid.
func (s *Scheduler) OnValidateEntry(fn func(taskID int64, gen uint64) bool) {
	s.cbMu.Lock()
	s.onValidateEntry = fn
	s.cbMu.Unlock()
}

func (s *Scheduler) entryValid(e Entry) bool {
	s.cbMu.RLock()
	fn := s.onValidateEntry
	s.cbMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn(e.TaskID, e.Gen)
}

// Start spawns n workers. Idempotent growth; use AdjustWorkerCount to
// shrink.
func (s *Scheduler) Start(n int) {
	s.AdjustWorkerCount(n)
}

// Enqueue adds one entry to the queue. An idle worker picks it up within
// the queue timeout.
func (s *Scheduler) Enqueue(e Entry) {
	s.queue.Push(e)
}

// QueueLen returns the number of queued entries.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// PauseAll closes the global gate. Running downloads tear down on their
// next progress event; idle workers block before taking new work.
func (s *Scheduler) PauseAll() {
	s.gate.Close()
}

// ResumeAll opens the global gate.
func (s *Scheduler) ResumeAll() {
	s.gate.Open()
}

// IsPausedAll reports whether the global gate is closed.
func (s *Scheduler) IsPausedAll() bool {
	return !s.gate.IsOpen()
}

// PauseTask flags one task. A running download for it tears down on its
// next progress event; a queued entry for it is skipped when popped.
func (s *Scheduler) PauseTask(taskID int64) {
	s.pausedMu.Lock()
	s.paused[taskID] = true
	s.pausedMu.Unlock()
}

// ResumeTask clears a task's pause flag. The caller re-enqueues the entry.
func (s *Scheduler) ResumeTask(taskID int64) {
	s.pausedMu.Lock()
	delete(s.paused, taskID)
	s.pausedMu.Unlock()
}

// IsTaskPaused reports whether the task is individually paused.
func (s *Scheduler) IsTaskPaused(taskID int64) bool {
	s.pausedMu.Lock()
	defer s.pausedMu.Unlock()
	return s.paused[taskID]
}

// AdjustWorkerCount grows or shrinks the pool to target. Shrinking flags
// the newest workers to retire; each exits after its current download.
func (s *Scheduler) AdjustWorkerCount(target int) {
	if target < 1 {
		target = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop workers that already exited.
	alive := s.workers[:0]
	for _, w := range s.workers {
		select {
		case <-w.done:
		default:
			alive = append(alive, w)
		}
	}
	s.workers = alive

	for len(s.workers) < target {
		s.nextID++
		w := newWorker(s.nextID, s)
		s.workers = append(s.workers, w)
		go w.run()
	}

	for i := len(s.workers) - 1; i >= target; i-- {
		s.workers[i].retire.Store(true)
	}

	s.logger.Info("worker pool adjusted", "target", target, "workers", len(s.workers))
}

// WorkerCount returns the number of workers not yet exited.
func (s *Scheduler) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, w := range s.workers {
		select {
		case <-w.done:
		default:
			n++
		}
	}
	return n
}

// Shutdown stops the pool: the stop flag tears down running downloads,
// one sentinel per worker drains the idle ones, and each worker gets a
// bounded wait before Shutdown moves on. Idempotent.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()

		s.mu.Lock()
		workers := make([]*worker, len(s.workers))
		copy(workers, s.workers)
		s.mu.Unlock()

		for range workers {
			s.queue.Push(sentinelEntry())
		}

		for _, w := range workers {
			select {
			case <-w.done:
			case <-time.After(workerCleanupWait):
				s.logger.Warn("worker did not stop in time", "worker", w.id)
			}
		}
	})
}

// emit helpers copy the callback under the read lock and run it on the
// caller's goroutine; workers already run concurrently.

func (s *Scheduler) emitTaskStarted(taskID int64) {
	s.cbMu.RLock()
	fn := s.onTaskStarted
	s.cbMu.RUnlock()
	if fn != nil {
		fn(taskID)
	}
}

func (s *Scheduler) emitMetadataFetched(taskID int64, meta task.Metadata) {
	s.cbMu.RLock()
	fn := s.onMetadataFetched
	s.cbMu.RUnlock()
	if fn != nil {
		fn(taskID, meta)
	}
}

func (s *Scheduler) emitProgress(taskID int64, ev ytdlp.Event) {
	s.cbMu.RLock()
	fn := s.onProgress
	s.cbMu.RUnlock()
	if fn != nil {
		fn(taskID, ev)
	}
}

func (s *Scheduler) emitFinished(ok bool, message string, taskID int64, filePath string) {
	s.cbMu.RLock()
	fn := s.onFinished
	s.cbMu.RUnlock()
	if fn != nil {
		fn(ok, message, taskID, filePath)
	}
}
