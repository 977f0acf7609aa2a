package controller

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/scheduler"
	"github.com/ytgrab/ytgrab/internal/store"
	"github.com/ytgrab/ytgrab/internal/task"
	"github.com/ytgrab/ytgrab/internal/youtube"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

// blockingDownloader succeeds immediately unless hold is set, in which
// case it streams progress until the hook tears it down. It tracks the
// peak number of concurrent invocations.
type blockingDownloader struct {
	mu     sync.Mutex
	hold   bool
	err    error
	active int
	peak   int
}

func (d *blockingDownloader) Download(ctx context.Context, url string, s config.Settings, isPlaylist bool, hook ytdlp.ProgressFunc) error {
	d.mu.Lock()
	hold := d.hold
	err := d.err
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if err != nil {
		return err
	}
	if !hold {
		return nil
	}
	for {
		if hookErr := hook(ytdlp.Event{Status: ytdlp.StatusDownloading, Filename: "clip.mp4", TotalBytes: 100}); hookErr != nil {
			return hookErr
		}
		d.mu.Lock()
		hold = d.hold
		d.mu.Unlock()
		if !hold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ytdlp.ErrStopped
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (d *blockingDownloader) peakConcurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func (d *blockingDownloader) Fetch(ctx context.Context, url string, s config.Settings, isPlaylist bool) (task.Metadata, bool) {
	return task.Metadata{Title: "Fetched", ID: youtube.ExtractVideoID(url)}, true
}

type stubLister struct {
	entries []youtube.PlaylistEntry
}

func (l *stubLister) ListPlaylist(ctx context.Context, url string, s config.Settings) ([]youtube.PlaylistEntry, bool) {
	return l.entries, l.entries != nil
}

// cannedPrompter returns fixed answers and records what was asked.
type cannedPrompter struct {
	mu                sync.Mutex
	playlistMode      bool
	acceptDuplicate   bool
	excludeDuplicates bool
	resumeSaved       bool

	duplicateMessages []string
}

func (p *cannedPrompter) ChoosePlaylistMode(string) bool { return p.playlistMode }

func (p *cannedPrompter) ConfirmDuplicate(msg string) bool {
	p.mu.Lock()
	p.duplicateMessages = append(p.duplicateMessages, msg)
	p.mu.Unlock()
	return p.acceptDuplicate
}

func (p *cannedPrompter) ConfirmExcludeDuplicates(int) bool { return p.excludeDuplicates }
func (p *cannedPrompter) ConfirmResumeSaved(int) bool       { return p.resumeSaved }

type fixture struct {
	ctrl     *Controller
	sched    *scheduler.Scheduler
	dl       *blockingDownloader
	history  *store.HistoryStore
	prompter *cannedPrompter
	lister   *stubLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(config.DatabaseConfig{Path: ":memory:", MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })

	settings := config.DefaultSettings()
	settings.DownloadFolder = t.TempDir()
	cfg := &config.Config{Settings: settings}

	dl := &blockingDownloader{}
	sched := scheduler.New(dl, dl, nil)
	history := store.NewHistoryStore(db, nil)
	taskStore := store.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"), nil)
	prompter := &cannedPrompter{}
	lister := &stubLister{}

	ctrl := New(cfg, sched, lister, history, taskStore, prompter, nil)
	sched.Start(1)
	t.Cleanup(sched.Shutdown)

	return &fixture{ctrl: ctrl, sched: sched, dl: dl, history: history, prompter: prompter, lister: lister}
}

func (f *fixture) waitStatus(t *testing.T, id int64, want task.Status) task.Task {
	t.Helper()
	var got task.Task
	require.Eventually(t, func() bool {
		for _, tk := range f.ctrl.Tasks() {
			if tk.ID == id && tk.Status == want {
				got = tk
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "task %d never became %s", id, want)
	return got
}

func TestAddSingleVideoFinishes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusFinished)

	// Completion lands in the history under the task's format.
	assert.True(t, f.history.IsDownloaded("abc123", "mp4"))
}

func TestAddRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.ctrl.Add("not a url"))
	assert.Empty(t, f.ctrl.Tasks())
}

func TestDuplicateDeclinedSkipsURL(t *testing.T) {
	f := newFixture(t)
	f.history.Add("abc123", "mp4", "A Video", "Someone")

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	assert.Empty(t, f.ctrl.Tasks())

	require.Len(t, f.prompter.duplicateMessages, 1)
	assert.Contains(t, f.prompter.duplicateMessages[0], "mp4")
}

func TestDuplicateAcceptedOverwritesHistory(t *testing.T) {
	f := newFixture(t)
	f.history.Add("abc123", "mp4", "A Video", "Someone")
	f.prompter.acceptDuplicate = true

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusFinished)
	assert.True(t, f.history.IsDownloaded("abc123", "mp4"))
}

func TestDifferentFormatIsNotADuplicate(t *testing.T) {
	f := newFixture(t)
	f.history.Add("abc123", "mp3", "A Video", "Someone")

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusFinished)
	assert.Empty(t, f.prompter.duplicateMessages)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)

	require.NoError(t, f.ctrl.Pause(1))
	f.waitStatus(t, 1, task.StatusPaused)

	// Release the downloader so the resumed attempt completes.
	f.dl.mu.Lock()
	f.dl.hold = false
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Resume(1))
	f.waitStatus(t, 1, task.StatusFinished)
}

func TestPauseTeardownIsNeverAFailure(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)
	require.NoError(t, f.ctrl.Pause(1))

	got := f.waitStatus(t, 1, task.StatusPaused)
	assert.Empty(t, got.Error)

	// The status must stay paused once the teardown event arrives.
	time.Sleep(100 * time.Millisecond)
	got = f.waitStatus(t, 1, task.StatusPaused)
	assert.NotEqual(t, task.StatusFailed, got.Status)
}

func TestFailedDownloadRecordsError(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.err = assert.AnError
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	got := f.waitStatus(t, 1, task.StatusFailed)
	assert.Equal(t, assert.AnError.Error(), got.Error)

	// History stays clean on failure.
	assert.False(t, f.history.IsDownloadedAnyFormat("abc123"))
}

func TestRetryFailedTask(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.err = assert.AnError
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusFailed)

	f.dl.mu.Lock()
	f.dl.err = nil
	f.dl.mu.Unlock()

	// Retry replaces the failed task with a fresh one.
	require.NoError(t, f.ctrl.Retry(1))
	got := f.waitStatus(t, 2, task.StatusFinished)
	assert.Equal(t, "abc123", got.VideoID)
	assert.Empty(t, got.Error)

	require.Len(t, f.ctrl.Tasks(), 1)
}

func TestResumeDuringTeardownKeepsOneOwner(t *testing.T) {
	f := newFixture(t)
	f.sched.Start(2)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)

	// Resume lands before the running attempt has observed the pause
	// flag; the re-queue must wait for its teardown instead of handing
	// the task to a second worker.
	require.NoError(t, f.ctrl.Pause(1))
	require.NoError(t, f.ctrl.Resume(1))

	f.dl.mu.Lock()
	f.dl.hold = false
	f.dl.mu.Unlock()

	f.waitStatus(t, 1, task.StatusFinished)
	assert.Equal(t, 1, f.dl.peakConcurrency())
}

func TestRemoveClearsSchedulerPauseState(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)

	require.NoError(t, f.ctrl.Pause(1))
	require.NoError(t, f.ctrl.Remove(1))

	assert.Empty(t, f.ctrl.Tasks())
	// The scheduler keeps no pause state for removed ids.
	assert.False(t, f.sched.IsTaskPaused(1))
}

func TestGlobalPauseAndResume(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)

	paused := f.ctrl.ToggleGlobal()
	assert.True(t, paused)
	assert.True(t, f.ctrl.GlobalPaused())
	f.waitStatus(t, 1, task.StatusPaused)

	f.dl.mu.Lock()
	f.dl.hold = false
	f.dl.mu.Unlock()

	paused = f.ctrl.ToggleGlobal()
	assert.False(t, paused)
	f.waitStatus(t, 1, task.StatusFinished)
}

func TestPlaylistExpansion(t *testing.T) {
	f := newFixture(t)
	f.lister.entries = []youtube.PlaylistEntry{
		{VideoID: "v1", Title: "One", URL: youtube.WatchURL("v1")},
		{VideoID: "v2", Title: "Two", URL: youtube.WatchURL("v2")},
	}

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/playlist?list=PL42"))

	require.Eventually(t, func() bool {
		return len(f.ctrl.Tasks()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	for _, tk := range f.ctrl.Tasks() {
		assert.Equal(t, task.KindPlaylistChild, tk.Kind)
		assert.Equal(t, "PL42", tk.PlaylistID)
	}
}

func TestPlaylistExpansionExcludesDuplicates(t *testing.T) {
	f := newFixture(t)
	f.history.Add("v1", "mp3", "One", "Someone")
	f.prompter.excludeDuplicates = true
	f.lister.entries = []youtube.PlaylistEntry{
		{VideoID: "v1", Title: "One", URL: youtube.WatchURL("v1")},
		{VideoID: "v2", Title: "Two", URL: youtube.WatchURL("v2")},
	}

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/playlist?list=PL42"))

	require.Eventually(t, func() bool {
		return len(f.ctrl.Tasks()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "v2", f.ctrl.Tasks()[0].VideoID)
}

func TestRemoveDropsTask(t *testing.T) {
	f := newFixture(t)
	f.dl.mu.Lock()
	f.dl.hold = true
	f.dl.mu.Unlock()

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusDownloading)

	require.NoError(t, f.ctrl.Remove(1))
	assert.Empty(t, f.ctrl.Tasks())
}

func TestCounts(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Add("https://www.youtube.com/watch?v=abc123"))
	f.waitStatus(t, 1, task.StatusFinished)

	counts := f.ctrl.Counts()
	assert.Equal(t, 1, counts[task.StatusFinished])
	assert.True(t, f.ctrl.Settled())
}
