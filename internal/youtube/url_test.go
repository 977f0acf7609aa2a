package youtube

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		preferPlaylist bool
		wantURL        string
		wantPlaylist   bool
	}{
		{
			name:    "plain watch url",
			url:     "https://www.youtube.com/watch?v=abc123",
			wantURL: "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:         "playlist url",
			url:          "https://www.youtube.com/playlist?list=PL42",
			wantURL:      "https://www.youtube.com/playlist?list=PL42",
			wantPlaylist: true,
		},
		{
			name:    "ambiguous url, single preferred",
			url:     "https://www.youtube.com/watch?v=abc123&list=PL42",
			wantURL: "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:           "ambiguous url, playlist preferred",
			url:            "https://www.youtube.com/watch?v=abc123&list=PL42",
			preferPlaylist: true,
			wantURL:        "https://www.youtube.com/playlist?list=PL42",
			wantPlaylist:   true,
		},
		{
			name:           "shorts url is always a single video",
			url:            "https://www.youtube.com/shorts/xyz789?list=PL42",
			preferPlaylist: true,
			wantURL:        "https://www.youtube.com/shorts/xyz789?list=PL42",
		},
		{
			name:    "short-form url",
			url:     "https://youtu.be/abc123",
			wantURL: "https://youtu.be/abc123",
		},
		{
			name:         "short-form url with list",
			url:          "https://youtu.be/abc123?list=PL42",
			wantURL:      "https://www.youtube.com/playlist?list=PL42",
			wantPlaylist: true,
			preferPlaylist: true,
		},
		{
			name:    "empty input",
			url:     "",
			wantURL: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isPlaylist := Classify(tt.url, tt.preferPlaylist)
			assert.Equal(t, tt.wantURL, got)
			assert.Equal(t, tt.wantPlaylist, isPlaylist)
		})
	}
}

func TestHasVideoAndList(t *testing.T) {
	assert.True(t, HasVideoAndList("https://www.youtube.com/watch?v=a&list=PL1"))
	assert.True(t, HasVideoAndList("https://youtu.be/a?list=PL1"))
	assert.False(t, HasVideoAndList("https://www.youtube.com/watch?v=a"))
	assert.False(t, HasVideoAndList("https://www.youtube.com/playlist?list=PL1"))
	assert.False(t, HasVideoAndList("https://www.youtube.com/shorts/a?list=PL1"))
	assert.False(t, HasVideoAndList(""))
}

func TestExtractVideoID(t *testing.T) {
	assert.Equal(t, "abc123", ExtractVideoID("https://www.youtube.com/watch?v=abc123"))
	assert.Equal(t, "abc123", ExtractVideoID("https://www.youtube.com/watch?v=abc123&list=PL1"))
	assert.Equal(t, "abc123", ExtractVideoID("https://youtu.be/abc123"))
	assert.Equal(t, "", ExtractVideoID("https://www.youtube.com/playlist?list=PL1"))
	assert.Equal(t, "", ExtractVideoID(""))
}

func TestExtractPlaylistID(t *testing.T) {
	assert.Equal(t, "PL1", ExtractPlaylistID("https://www.youtube.com/playlist?list=PL1"))
	assert.Equal(t, "PL1", ExtractPlaylistID("https://www.youtube.com/watch?v=a&list=PL1"))
	assert.Equal(t, "", ExtractPlaylistID("https://www.youtube.com/watch?v=a"))
}

func TestWatchURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", WatchURL("abc123"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("https://www.youtube.com/watch?v=a"))
	assert.True(t, IsValid("http://youtu.be/a"))
	assert.False(t, IsValid("not a url"))
	assert.False(t, IsValid("ftp://example.com/a"))
	assert.False(t, IsValid(""))
}
