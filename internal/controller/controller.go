// Package controller owns the task list and drives the scheduler. It is
// the single writer of task state; scheduler workers report back through
// callbacks.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/scheduler"
	"github.com/ytgrab/ytgrab/internal/store"
	"github.com/ytgrab/ytgrab/internal/task"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
	"github.com/ytgrab/ytgrab/internal/youtube"
)

// PlaylistLister resolves a playlist URL to its entries. Implemented by
// the youtube client.
type PlaylistLister interface {
	ListPlaylist(ctx context.Context, url string, s config.Settings) ([]youtube.PlaylistEntry, bool)
}

// Controller coordinates URL intake, duplicate detection, task lifecycle
// and persistence.
type Controller struct {
	cfg       *config.Config
	sched     *scheduler.Scheduler
	lister    PlaylistLister
	history   *store.HistoryStore
	taskStore *store.TaskStore
	prompter  Prompter
	logger    *slog.Logger

	mu     sync.Mutex
	tasks  []*task.Task
	nextID int64

	// gens counts attempts per task; queue entries stamped with an older
	// generation are dropped by the scheduler's validation check.
	gens map[int64]uint64

	// running marks tasks whose download attempt has started and not yet
	// reported a terminal event.
	running map[int64]bool

	// pendingResume marks paused tasks whose re-queue waits for the
	// running attempt's teardown, so a task never has two owners.
	pendingResume map[int64]bool

	// notify wakes Wait after any task state change.
	notify chan struct{}
}

// New wires a controller to the scheduler's callbacks.
func New(cfg *config.Config, sched *scheduler.Scheduler, lister PlaylistLister,
	history *store.HistoryStore, taskStore *store.TaskStore, prompter Prompter,
	logger *slog.Logger) *Controller {

	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:           cfg,
		sched:         sched,
		lister:        lister,
		history:       history,
		taskStore:     taskStore,
		prompter:      prompter,
		logger:        logger,
		gens:          make(map[int64]uint64),
		running:       make(map[int64]bool),
		pendingResume: make(map[int64]bool),
		notify:        make(chan struct{}, 1),
	}

	sched.OnTaskStarted(c.handleTaskStarted)
	sched.OnMetadataFetched(c.handleMetadataFetched)
	sched.OnProgress(c.handleProgress)
	sched.OnFinished(c.handleFinished)
	sched.OnValidateEntry(c.validateEntry)

	return c
}

// validateEntry reports whether a queue entry still belongs to a live
// task attempt. Entries outlive pauses, resumes and removals; this check
// keeps the stale ones from dispatching.
func (c *Controller) validateEntry(id int64, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findLocked(id) == nil {
		return false
	}
	return c.gens[id] == gen
}

// Add classifies rawURL, runs duplicate detection and queues the work. A
// playlist URL expands asynchronously into one task per entry. A declined
// duplicate is not an error; the URL is simply skipped.
func (c *Controller) Add(rawURL string) error {
	if !youtube.IsValid(rawURL) {
		return fmt.Errorf("invalid URL: %q", rawURL)
	}

	preferPlaylist := false
	if youtube.HasVideoAndList(rawURL) {
		preferPlaylist = c.prompter.ChoosePlaylistMode(rawURL)
	}

	canonical, isPlaylist := youtube.Classify(rawURL, preferPlaylist)
	if canonical == "" {
		return fmt.Errorf("invalid URL: %q", rawURL)
	}

	settings := c.cfg.Settings

	if isPlaylist {
		go c.expandPlaylist(canonical, settings)
		return nil
	}

	videoID := youtube.ExtractVideoID(canonical)

	c.mu.Lock()
	dup, msg, _ := c.checkDuplicate(videoID, 0, settings.Format)
	c.mu.Unlock()

	if dup {
		if !c.prompter.ConfirmDuplicate(msg) {
			c.logger.Info("duplicate declined", "url", canonical, "video_id", videoID)
			return nil
		}
		c.history.Remove(videoID, settings.Format)
	}

	c.mu.Lock()
	t := c.newTaskLocked(canonical, task.KindSingle, videoID, "", settings)
	c.mu.Unlock()

	c.sched.Enqueue(scheduler.Entry{
		Priority: scheduler.PriorityFresh,
		TaskID:   t.ID,
		URL:      t.URL,
		Settings: t.Settings,
		Meta:     t.Meta,
	})
	c.signal()
	return nil
}

// newTaskLocked appends a task with the next id. Caller holds c.mu.
func (c *Controller) newTaskLocked(url string, kind task.Kind, videoID, playlistID string, settings config.Settings) *task.Task {
	c.nextID++
	t := &task.Task{
		ID:         c.nextID,
		URL:        url,
		Status:     task.StatusWaiting,
		Kind:       kind,
		VideoID:    videoID,
		PlaylistID: playlistID,
		Settings:   settings,
	}
	c.tasks = append(c.tasks, t)
	return t
}

// expandPlaylist lists the playlist and queues one task per entry at
// background priority. Entries already downloaded in any format, or
// already queued, are offered for exclusion.
func (c *Controller) expandPlaylist(url string, settings config.Settings) {
	entries, ok := c.lister.ListPlaylist(context.Background(), url, settings)
	if !ok {
		c.logger.Error("playlist listing failed", "url", url)
		return
	}
	if len(entries) == 0 {
		c.logger.Warn("playlist is empty", "url", url)
		return
	}

	playlistID := youtube.ExtractPlaylistID(url)

	c.mu.Lock()
	var dupCount int
	duplicate := make(map[string]bool, len(entries))
	for _, e := range entries {
		if c.history.IsDownloadedAnyFormat(e.VideoID) || c.hasActiveTaskLocked(e.VideoID) {
			duplicate[e.VideoID] = true
			dupCount++
		}
	}
	c.mu.Unlock()

	exclude := false
	if dupCount > 0 {
		exclude = c.prompter.ConfirmExcludeDuplicates(dupCount)
	}

	var queued []*task.Task
	c.mu.Lock()
	for _, e := range entries {
		if exclude && duplicate[e.VideoID] {
			continue
		}
		t := c.newTaskLocked(e.URL, task.KindPlaylistChild, e.VideoID, playlistID, settings)
		t.Meta.Title = e.Title
		queued = append(queued, t)
	}
	c.mu.Unlock()

	for _, t := range queued {
		c.sched.Enqueue(scheduler.Entry{
			Priority: scheduler.PriorityFresh,
			TaskID:   t.ID,
			URL:      t.URL,
			Settings: t.Settings,
		})
	}
	c.logger.Info("playlist expanded", "url", url, "entries", len(entries), "queued", len(queued))
	c.signal()
}

// hasActiveTaskLocked reports whether any live task targets videoID.
// Caller holds c.mu.
func (c *Controller) hasActiveTaskLocked(videoID string) bool {
	if videoID == "" {
		return false
	}
	for _, t := range c.tasks {
		if t.VideoID == videoID && t.IsActive() {
			return true
		}
	}
	return false
}

// Pause pauses one task. A running download tears down on its next
// progress event; a queued entry is dropped when popped.
func (c *Controller) Pause(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.findLocked(id)
	if t == nil {
		return fmt.Errorf("no task %d", id)
	}
	if t.Status != task.StatusWaiting && t.Status != task.StatusDownloading {
		return fmt.Errorf("task %d is %s, cannot pause", id, t.Status)
	}

	t.Status = task.StatusPaused
	c.sched.PauseTask(id)
	c.signal()
	return nil
}

// Resume re-queues a paused task ahead of normal work, with the resume
// flag set so partial files are continued. If the paused attempt has not
// torn down yet, the re-queue is deferred to its teardown event; a task
// never has two concurrent download attempts.
func (c *Controller) Resume(id int64) error {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return fmt.Errorf("no task %d", id)
	}
	if t.Status != task.StatusPaused {
		c.mu.Unlock()
		return fmt.Errorf("task %d is %s, cannot resume", id, t.Status)
	}
	if c.running[id] {
		c.pendingResume[id] = true
		c.mu.Unlock()
		return nil
	}

	t.Status = task.StatusWaiting
	entry := c.resumeEntryLocked(t)
	c.mu.Unlock()

	c.sched.Enqueue(entry)
	c.signal()
	return nil
}

// resumeEntryLocked builds a resume entry under a fresh generation,
// invalidating any queued entry from the previous attempt. Caller holds
// c.mu and has checked that no attempt is running.
func (c *Controller) resumeEntryLocked(t *task.Task) scheduler.Entry {
	c.gens[t.ID]++
	c.sched.ResumeTask(t.ID)

	settings := t.Settings
	settings.IsResume = true
	return scheduler.Entry{
		Priority:   scheduler.PriorityResume,
		TaskID:     t.ID,
		Gen:        c.gens[t.ID],
		URL:        t.URL,
		IsPlaylist: t.Meta.IsPlaylist,
		Settings:   settings,
		Meta:       t.Meta,
	}
}

// Retry replaces a finished or failed task with a fresh one for the same
// URL, re-running duplicate detection since the first attempt may have
// recorded history. The replacement gets a new id and a current settings
// snapshot.
func (c *Controller) Retry(id int64) error {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return fmt.Errorf("no task %d", id)
	}
	if !t.Status.IsTerminal() {
		c.mu.Unlock()
		return fmt.Errorf("task %d is %s, cannot retry", id, t.Status)
	}
	url, kind, videoID, playlistID := t.URL, t.Kind, t.VideoID, t.PlaylistID
	settings := c.cfg.Settings
	dup, msg, _ := c.checkDuplicate(videoID, t.ID, settings.Format)
	c.mu.Unlock()

	if dup {
		if !c.prompter.ConfirmDuplicate(msg) {
			return nil
		}
		c.history.Remove(videoID, settings.Format)
	}

	c.mu.Lock()
	if removeErr := c.removeLocked(id); removeErr != nil {
		c.mu.Unlock()
		return removeErr
	}
	fresh := c.newTaskLocked(url, kind, videoID, playlistID, settings)
	c.mu.Unlock()

	c.sched.Enqueue(scheduler.Entry{
		Priority: scheduler.PriorityFresh,
		TaskID:   fresh.ID,
		URL:      fresh.URL,
		Settings: fresh.Settings,
	})
	c.signal()
	return nil
}

// Remove drops a task from the list. A running download for it tears
// down; its late completion event is ignored.
func (c *Controller) Remove(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Controller) removeLocked(id int64) error {
	for i, t := range c.tasks {
		if t.ID == id {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			// Queued entries for the task fail validation once it is
			// gone; a running download tears down on its next event.
			// Clearing the pause flag keeps the scheduler's pause map
			// from accumulating removed ids.
			c.sched.ResumeTask(id)
			delete(c.gens, id)
			delete(c.running, id)
			delete(c.pendingResume, id)
			c.signal()
			return nil
		}
	}
	return fmt.Errorf("no task %d", id)
}

// DeleteFile removes a task and deletes its downloaded file when one was
// recorded.
func (c *Controller) DeleteFile(id int64) error {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return fmt.Errorf("no task %d", id)
	}
	path := t.OutputPath
	err := c.removeLocked(id)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if path != "" {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("failed to delete %s: %w", path, rmErr)
		}
	}
	return nil
}

// ToggleGlobal flips the global pause gate. Pausing pre-marks running
// tasks as paused before closing the gate so their teardown events are
// classified as pauses; resuming re-queues every paused task that was not
// individually paused.
func (c *Controller) ToggleGlobal() bool {
	if !c.sched.IsPausedAll() {
		// Waiting tasks keep their queue entries, so only running
		// downloads are marked; re-queueing them on resume would
		// duplicate the waiting entries.
		c.mu.Lock()
		for _, t := range c.tasks {
			if t.Status == task.StatusDownloading {
				t.Status = task.StatusPaused
			}
		}
		c.mu.Unlock()
		c.sched.PauseAll()
		c.signal()
		return true
	}

	c.sched.ResumeAll()

	var entries []scheduler.Entry
	c.mu.Lock()
	for _, t := range c.tasks {
		if t.Status != task.StatusPaused || c.sched.IsTaskPaused(t.ID) {
			continue
		}
		if c.running[t.ID] {
			// The teardown from the gate closing is still in flight;
			// re-queue on that event instead of racing it.
			c.pendingResume[t.ID] = true
			continue
		}
		t.Status = task.StatusWaiting
		entries = append(entries, c.resumeEntryLocked(t))
	}
	c.mu.Unlock()

	for _, e := range entries {
		c.sched.Enqueue(e)
	}
	c.signal()
	return false
}

// GlobalPaused reports whether the global gate is closed.
func (c *Controller) GlobalPaused() bool {
	return c.sched.IsPausedAll()
}

// LoadSaved restores the task list persisted by the previous run. The
// user confirms the restore; restored tasks come back paused and are
// resumed explicitly.
func (c *Controller) LoadSaved() (int, error) {
	saved, err := c.taskStore.Load()
	if err != nil {
		return 0, err
	}
	if len(saved) == 0 {
		return 0, nil
	}
	if !c.prompter.ConfirmResumeSaved(len(saved)) {
		return 0, nil
	}

	c.mu.Lock()
	for _, t := range saved {
		t.Status = task.StatusFromString(string(t.Status))
		if t.Status == task.StatusDownloading || t.Status == task.StatusWaiting {
			t.Status = task.StatusPaused
		}
		if t.ID > c.nextID {
			c.nextID = t.ID
		}
		c.tasks = append(c.tasks, t)
	}
	n := len(saved)
	c.mu.Unlock()

	c.signal()
	return n, nil
}

// ResumeAllPaused re-queues every paused task.
func (c *Controller) ResumeAllPaused() {
	c.mu.Lock()
	var ids []int64
	for _, t := range c.tasks {
		if t.Status == task.StatusPaused {
			ids = append(ids, t.ID)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.Resume(id); err != nil {
			c.logger.Warn("resume failed", "task", id, "error", err)
		}
	}
}

// Tasks returns a snapshot of the task list.
func (c *Controller) Tasks() []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]task.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, *t)
	}
	return out
}

// Counts returns the number of tasks per status.
func (c *Controller) Counts() map[task.Status]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[task.Status]int)
	for _, t := range c.tasks {
		counts[t.Status]++
	}
	return counts
}

// Settled reports whether no task is waiting or downloading.
func (c *Controller) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tasks {
		if t.Status == task.StatusWaiting || t.Status == task.StatusDownloading {
			return false
		}
	}
	return true
}

// Wait blocks until every task settled (finished, failed or paused) or
// ctx is done.
func (c *Controller) Wait(ctx context.Context) {
	for {
		if c.Settled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}
	}
}

// Shutdown persists the task list and stops the scheduler.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	tasks := make([]*task.Task, len(c.tasks))
	copy(tasks, c.tasks)
	c.mu.Unlock()

	c.taskStore.Save(tasks)
	c.sched.Shutdown()
}

func (c *Controller) findLocked(id int64) *task.Task {
	for _, t := range c.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (c *Controller) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Scheduler callbacks. A missing task means it was removed while the
// download ran; the event is dropped.

func (c *Controller) handleTaskStarted(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.findLocked(id); t != nil {
		t.Status = task.StatusDownloading
		c.running[id] = true
		c.signal()
	}
}

func (c *Controller) handleMetadataFetched(id int64, meta task.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.findLocked(id); t != nil {
		t.Meta = meta
		if t.VideoID == "" {
			t.VideoID = meta.ID
		}
		c.signal()
	}
}

func (c *Controller) handleProgress(id int64, ev ytdlp.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.findLocked(id); t != nil {
		if c.pendingResume[id] && t.Status == task.StatusPaused {
			// The paused attempt survived the gate reopening and keeps
			// ownership; the deferred re-queue is dropped.
			delete(c.pendingResume, id)
			t.Status = task.StatusDownloading
		}
		t.Progress = task.Progress{
			Percent:         ev.Percent,
			PercentStr:      ev.PercentStr,
			SpeedStr:        ev.SpeedStr,
			ETA:             ev.ETA,
			DownloadedBytes: ev.DownloadedBytes,
			TotalBytes:      ev.TotalBytes,
		}
	}
}

func (c *Controller) handleFinished(ok bool, message string, id int64, filePath string) {
	c.mu.Lock()
	delete(c.running, id)
	t := c.findLocked(id)
	if t == nil {
		delete(c.pendingResume, id)
		c.mu.Unlock()
		return
	}

	var record *task.Task
	var resume *scheduler.Entry
	switch {
	case ok:
		delete(c.pendingResume, id)
		t.Status = task.StatusFinished
		t.OutputPath = filePath
		t.Error = ""
		t.Progress.Percent = 100
		t.Progress.PercentStr = "100%"
		snap := *t
		record = &snap
	case message == "paused" || t.Status == task.StatusPaused:
		// A teardown caused by a pause is never a failure.
		t.Status = task.StatusPaused
		if c.pendingResume[id] {
			// The attempt the user resumed mid-teardown is gone now;
			// re-queue under a fresh generation.
			delete(c.pendingResume, id)
			t.Status = task.StatusWaiting
			e := c.resumeEntryLocked(t)
			resume = &e
		}
	default:
		delete(c.pendingResume, id)
		t.Status = task.StatusFailed
		t.Error = message
	}
	c.mu.Unlock()

	if record != nil {
		videoID := record.VideoID
		if videoID == "" {
			videoID = record.Meta.ID
		}
		c.history.Add(videoID, record.Settings.Format, record.Meta.Title, record.Meta.Uploader)
	}
	if resume != nil {
		c.sched.Enqueue(*resume)
	}
	c.signal()
}
