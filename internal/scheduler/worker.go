package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

// mediaExtensions are the container extensions considered when locating a
// finished file by title.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
}

// pathSanitizer mirrors the downloader's filename sanitization: reserved
// path characters become their fullwidth forms.
var pathSanitizer = strings.NewReplacer(
	"<", "＜", ">", "＞", ":", "：", "\"", "＂",
	"/", "／", "\\", "＼", "|", "｜", "?", "？", "*", "＊",
)

type worker struct {
	id     int
	s      *Scheduler
	retire atomic.Bool
	done   chan struct{}
}

func newWorker(id int, s *Scheduler) *worker {
	return &worker{id: id, s: s, done: make(chan struct{})}
}

// run is the worker loop: wait out a global pause, pop an entry, skip
// stale entries for paused tasks, then download. A sentinel entry or the
// stop flag ends the loop; a retire flag ends it once the worker is idle.
func (w *worker) run() {
	defer close(w.done)
	w.s.logger.Debug("worker started", "worker", w.id)

	for {
		if w.retire.Load() {
			w.s.logger.Debug("worker retiring", "worker", w.id)
			return
		}

		if !w.s.gate.Wait(w.s.stopCh) {
			return
		}

		select {
		case <-w.s.stopCh:
			return
		default:
		}

		e, ok := w.s.queue.Pop(queueTimeout, w.s.stopCh)
		if !ok {
			continue
		}
		if e.TaskID < 0 {
			w.s.logger.Debug("worker got sentinel", "worker", w.id)
			return
		}
		if w.s.IsTaskPaused(e.TaskID) || !w.s.entryValid(e) {
			// Stale entry; the task was paused, removed, or re-queued
			// under a newer generation while this entry waited.
			continue
		}

		w.process(e)
	}
}

// bucket accumulates progress for one stream of a download.
type bucket struct {
	name       string
	total      int64
	downloaded int64
}

func (w *worker) process(e Entry) {
	meta := e.Meta
	if meta.Empty() {
		if fetched, ok := w.s.fetcher.Fetch(w.s.ctx, e.URL, e.Settings, e.IsPlaylist); ok {
			meta = fetched
			w.s.emitMetadataFetched(e.TaskID, meta)
		} else {
			w.s.logger.Warn("metadata fetch failed, downloading anyway", "task", e.TaskID, "url", e.URL)
		}
	}

	w.s.emitTaskStarted(e.TaskID)

	// Stream buckets, preseeded with the size estimates so the combined
	// plan is known before the second stream starts. When both estimates
	// are known the download fetches two fragments, and only the second
	// one may report completion.
	video := bucket{total: meta.VideoSize}
	audio := bucket{total: meta.AudioSize}
	twoStreams := meta.VideoSize > 0 && meta.AudioSize > 0
	var lastFile string

	hook := func(ev ytdlp.Event) error {
		select {
		case <-w.s.stopCh:
			return ytdlp.ErrStopped
		default:
		}
		if !w.s.gate.IsOpen() || w.s.IsTaskPaused(e.TaskID) || !w.s.entryValid(e) {
			return ytdlp.ErrPausedByUser
		}

		if ev.Filename != "" {
			lastFile = ev.Filename
		}

		switch ev.Status {
		case ytdlp.StatusDownloading:
			name := ytdlp.CleanFragmentName(ev.Filename)
			b := assignBucket(&video, &audio, name)
			b.name = name
			b.downloaded = ev.DownloadedBytes
			if ev.TotalBytes > 0 {
				b.total = ev.TotalBytes
			}
			if b == &audio {
				// The audio stream starts after the video stream is done.
				video.downloaded = video.total
			}

			// The estimates can undershoot the real stream sizes.
			plan := video.total + audio.total
			if ev.TotalBytes > plan {
				plan = ev.TotalBytes
			}
			if plan <= 0 {
				plan = 1
			}

			percent := float64(video.downloaded+audio.downloaded) * 100 / float64(plan)
			if percent > 100 {
				percent = 100
			}

			out := ev
			out.Filename = name
			out.Percent = percent
			out.PercentStr = fmt.Sprintf("%.1f%%", percent)
			out.SpeedStr = humanize.Bytes(uint64(ev.Speed)) + "/s"
			w.s.emitProgress(e.TaskID, out)

		case ytdlp.StatusFinished:
			name := ytdlp.CleanFragmentName(ev.Filename)
			if audio.name != "" && name != audio.name {
				// First stream finished; the audio stream is still due.
				return nil
			}
			if twoStreams && audio.name == "" {
				// The plan expects an audio fragment that has not
				// started yet.
				return nil
			}
			out := ev
			out.Filename = name
			out.Percent = 100
			out.PercentStr = "100%"
			out.DownloadedBytes = video.total + audio.total
			out.TotalBytes = video.total + audio.total
			w.s.emitProgress(e.TaskID, out)

		case ytdlp.StatusPostprocessing:
			total := video.total + audio.total
			out := ev
			out.Percent = 100
			out.PercentStr = "converting"
			out.DownloadedBytes = total
			out.TotalBytes = total
			w.s.emitProgress(e.TaskID, out)
		}

		return nil
	}

	err := w.s.downloader.Download(w.s.ctx, e.URL, e.Settings, e.IsPlaylist, hook)

	select {
	case <-w.s.stopCh:
		// Shutdown teardown; the controller persists state separately.
		return
	default:
	}

	if !w.s.entryValid(e) {
		// The task was removed or superseded mid-download; its terminal
		// event belongs to nobody.
		return
	}

	switch {
	case err == nil:
		path := locateOutput(e.Settings.DownloadFolder, lastFile, meta.Title)
		w.s.emitFinished(true, "", e.TaskID, path)
	case errors.Is(err, ytdlp.ErrPausedByUser):
		w.s.emitFinished(false, "paused", e.TaskID, "")
	case errors.Is(err, ytdlp.ErrStopped):
		return
	default:
		w.s.logger.Error("download failed", "task", e.TaskID, "error", err)
		w.s.emitFinished(false, err.Error(), e.TaskID, "")
	}
}

// assignBucket routes a fragment name to its stream bucket. The first
// name seen is the video stream, the second the audio stream; an unknown
// third name reuses the audio bucket.
func assignBucket(video, audio *bucket, name string) *bucket {
	switch {
	case video.name == "" || video.name == name:
		return video
	case audio.name == "" || audio.name == name:
		return audio
	default:
		return audio
	}
}

// locateOutput finds the finished media file. The last path reported by
// the progress stream wins when it still exists; otherwise the folder is
// scanned for a media file whose stem contains the title, compared
// NFC-normalized with the downloader's fullwidth character substitution
// applied.
func locateOutput(folder, lastFile, title string) string {
	if lastFile != "" {
		candidate := lastFile
		for _, suffix := range []string{".part", ".ytdl"} {
			candidate = strings.TrimSuffix(candidate, suffix)
		}
		if !filepath.IsAbs(candidate) && folder != "" {
			candidate = filepath.Join(folder, candidate)
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if folder == "" || title == "" {
		return ""
	}

	want := norm.NFC.String(pathSanitizer.Replace(title))

	entries, err := os.ReadDir(folder)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !mediaExtensions[ext] {
			continue
		}
		stem := norm.NFC.String(strings.TrimSuffix(name, filepath.Ext(name)))
		if strings.Contains(stem, want) {
			return filepath.Join(folder, name)
		}
	}
	return ""
}
