package youtube

import (
	"context"
	"log/slog"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/task"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

// Fallback strings for metadata fields the extractor leaves empty.
const (
	fallbackTitle         = "No Title"
	fallbackUploader      = "Unknown"
	fallbackPlaylistTitle = "PlayList"
)

// Client fetches metadata and runs downloads through the wrapper. It is
// the production implementation of the scheduler's Downloader and
// MetadataFetcher contracts.
type Client struct {
	wrapper *ytdlp.Wrapper
	logger  *slog.Logger
}

// NewClient wraps a downloader wrapper.
func NewClient(wrapper *ytdlp.Wrapper, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{wrapper: wrapper, logger: logger}
}

// Fetch extracts metadata for url under the given settings snapshot. A
// failed or timed-out extraction returns (zero, false); metadata is
// best-effort and never blocks a download.
func (c *Client) Fetch(ctx context.Context, url string, s config.Settings, isPlaylist bool) (task.Metadata, bool) {
	info, ok := c.wrapper.ExtractInfo(ctx, url, InfoOptions(s, isPlaylist))
	if !ok {
		return task.Metadata{}, false
	}

	if isPlaylist || info.IsPlaylist() {
		return playlistMetadata(info), true
	}
	return videoMetadata(info, url), true
}

// Download runs the download for url and streams progress into hook.
func (c *Client) Download(ctx context.Context, url string, s config.Settings, isPlaylist bool, hook ytdlp.ProgressFunc) error {
	return c.wrapper.Download(ctx, url, BuildOptions(s, isPlaylist), hook)
}

// PlaylistEntry is one video listed by a flat playlist extraction.
type PlaylistEntry struct {
	VideoID string
	Title   string
	URL     string
}

// ListPlaylist resolves a playlist URL to its entries without fetching
// each video. Entries lacking an id are dropped.
func (c *Client) ListPlaylist(ctx context.Context, url string, s config.Settings) ([]PlaylistEntry, bool) {
	info, ok := c.wrapper.ExtractInfo(ctx, url, InfoOptions(s, true))
	if !ok {
		return nil, false
	}
	return playlistEntries(info), true
}

// playlistEntries flattens a flat-extraction document. A one-video
// playlist folds to a plain video document, which counts as a single
// entry rather than an empty playlist.
func playlistEntries(info *ytdlp.Info) []PlaylistEntry {
	if !info.IsPlaylist() {
		if info.ID == "" {
			return nil
		}
		return []PlaylistEntry{{
			VideoID: info.ID,
			Title:   info.Title,
			URL:     WatchURL(info.ID),
		}}
	}

	var entries []PlaylistEntry
	for _, e := range info.Entries {
		if e == nil || e.ID == "" {
			continue
		}
		entries = append(entries, PlaylistEntry{
			VideoID: e.ID,
			Title:   e.Title,
			URL:     WatchURL(e.ID),
		})
	}
	return entries
}

func playlistMetadata(info *ytdlp.Info) task.Metadata {
	m := task.Metadata{
		Title:      info.Title,
		Uploader:   info.Uploader,
		IsPlaylist: true,
		VideoCount: len(info.Entries),
	}
	if m.Title == "" {
		m.Title = fallbackPlaylistTitle
	}
	if m.Uploader == "" {
		m.Uploader = fallbackUploader
	}
	return m
}

func videoMetadata(info *ytdlp.Info, url string) task.Metadata {
	m := task.Metadata{
		Title:      info.Title,
		Uploader:   info.Uploader,
		Duration:   info.Duration,
		Thumbnail:  info.Thumbnail,
		ID:         info.ID,
		WebpageURL: info.WebpageURL,
	}
	if m.Title == "" {
		m.Title = fallbackTitle
	}
	if m.Uploader == "" {
		m.Uploader = info.Channel
	}
	if m.Uploader == "" {
		m.Uploader = fallbackUploader
	}
	if m.WebpageURL == "" {
		m.WebpageURL = url
	}

	m.VideoSize, m.AudioSize = streamSizes(info)
	return m
}

// streamSizes estimates video and audio byte sizes from the selected
// formats, falling back to the document's own size and finally to the
// largest format listed.
func streamSizes(info *ytdlp.Info) (video, audio int64) {
	if len(info.RequestedFormats) > 0 {
		for _, f := range info.RequestedFormats {
			if f.HasVideo() {
				video += f.Size()
			} else {
				audio += f.Size()
			}
		}
		return video, audio
	}

	if info.Filesize > 0 {
		return info.Filesize, 0
	}
	if info.FilesizeApprox > 0 {
		return info.FilesizeApprox, 0
	}

	for _, f := range info.Formats {
		if s := f.Size(); s > video {
			video = s
		}
	}
	return video, 0
}
