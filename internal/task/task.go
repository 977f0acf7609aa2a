package task

import (
	"strings"

	"github.com/ytgrab/ytgrab/internal/config"
)

// Status represents the lifecycle state of a download task.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
	StatusPaused      Status = "paused"
)

// StatusFromString parses a persisted status value, case-insensitively.
// Unknown values map to Waiting.
func StatusFromString(value string) Status {
	switch Status(strings.ToLower(value)) {
	case StatusWaiting, StatusDownloading, StatusFinished, StatusFailed, StatusPaused:
		return Status(strings.ToLower(value))
	default:
		return StatusWaiting
	}
}

func (s Status) String() string {
	return string(s)
}

// IsActive reports whether the status occupies the queue or a worker.
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusDownloading || s == StatusPaused
}

// IsTerminal reports whether the task has reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Kind classifies how a task entered the system.
type Kind string

const (
	KindSingle        Kind = "single"
	KindPlaylistChild Kind = "playlist-child"
	KindStandalone    Kind = "standalone"
)

// Metadata is the snapshot of video information attached to a task. It may
// be empty until lazily fetched by a worker.
type Metadata struct {
	Title      string  `json:"title,omitempty"`
	Uploader   string  `json:"uploader,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	ID         string  `json:"id,omitempty"`
	WebpageURL string  `json:"webpage_url,omitempty"`
	VideoSize  int64   `json:"video_size,omitempty"`
	AudioSize  int64   `json:"audio_size,omitempty"`

	IsPlaylist bool `json:"is_playlist,omitempty"`
	VideoCount int  `json:"video_count,omitempty"`
}

// Empty reports whether the snapshot still needs to be fetched.
func (m Metadata) Empty() bool {
	return m.Title == ""
}

// Progress is the latest observed download progress for a task.
type Progress struct {
	Percent         float64 `json:"percent"`
	PercentStr      string  `json:"percent_str,omitempty"`
	SpeedStr        string  `json:"speed_str,omitempty"`
	ETA             int     `json:"eta,omitempty"`
	DownloadedBytes int64   `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
}

// Task is a unit of planned or in-flight download work.
type Task struct {
	ID         int64           `json:"id"`
	URL        string          `json:"url"`
	Status     Status          `json:"status"`
	Kind       Kind            `json:"kind,omitempty"`
	PlaylistID string          `json:"playlist_id,omitempty"`
	VideoID    string          `json:"video_id,omitempty"`
	OutputPath string          `json:"output_path,omitempty"`
	Error      string          `json:"error,omitempty"`
	Settings   config.Settings `json:"settings"`
	Meta       Metadata        `json:"meta,omitempty"`
	Progress   Progress        `json:"progress"`
}

// IsActive reports whether the task is waiting, downloading or paused.
func (t *Task) IsActive() bool {
	return t.Status.IsActive()
}
