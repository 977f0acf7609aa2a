// Package youtube classifies platform URLs and fetches video metadata
// through the downloader wrapper.
package youtube

import (
	"net/url"
	"strings"
)

const (
	shortHostSuffix   = "youtu.be"
	shortsPath        = "/shorts/"
	playlistURLPrefix = "https://www.youtube.com/playlist?list="
	watchURLPrefix    = "https://www.youtube.com/watch?v="
)

// IsValid reports whether rawURL is a well-formed http(s) URL.
func IsValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Classify reduces rawURL to its canonical form and decides whether it
// names a playlist. A /shorts/ path is always a single video. When both a
// video and a list parameter are present, preferPlaylist picks the mode:
// playlist mode constructs a canonical playlist URL from the list id,
// single mode strips the list parameter and reserializes. Invalid input
// returns ("", false); Classify never fails.
func Classify(rawURL string, preferPlaylist bool) (string, bool) {
	if rawURL == "" {
		return "", false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()

	hasVideo := q.Has("v") || hasShortPathVideo(u)

	// Shorts are single videos regardless of other parameters.
	if strings.Contains(u.Path, shortsPath) {
		return rawURL, false
	}

	if hasVideo && q.Has("list") {
		if preferPlaylist {
			return playlistURLPrefix + q.Get("list"), true
		}
		q.Del("list")
		u.RawQuery = q.Encode()
		return u.String(), false
	}

	if q.Has("list") && !hasVideo {
		return rawURL, true
	}

	return rawURL, false
}

// HasVideoAndList reports whether rawURL is ambiguous, carrying both a
// video and a list parameter. The caller uses this to decide whether to
// ask the user which mode to use.
func HasVideoAndList(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()

	hasVideo := q.Has("v") || hasShortPathVideo(u)

	return hasVideo && q.Has("list") && !strings.Contains(u.Path, shortsPath)
}

// ExtractVideoID reads the video id from a watch URL's v parameter or a
// shortform URL's path. Returns "" when no id is present.
func ExtractVideoID(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if v := u.Query().Get("v"); v != "" {
		return v
	}

	if strings.HasSuffix(u.Host, shortHostSuffix) {
		return strings.Trim(u.Path, "/")
	}

	return ""
}

// ExtractPlaylistID reads the list parameter from a playlist or watch URL.
func ExtractPlaylistID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}

// WatchURL constructs the canonical single-video URL for a video id.
func WatchURL(videoID string) string {
	return watchURLPrefix + videoID
}

// hasShortPathVideo reports whether the URL is a youtu.be link whose path
// component is a video id.
func hasShortPathVideo(u *url.URL) bool {
	return strings.HasSuffix(u.Host, shortHostSuffix) &&
		u.Path != "" && u.Path != "/" &&
		!strings.HasPrefix(u.Path, shortsPath)
}
