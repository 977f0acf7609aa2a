package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignBucket(t *testing.T) {
	var video, audio bucket

	b := assignBucket(&video, &audio, "clip.f137.mp4")
	assert.Same(t, &video, b)
	video.name = "clip.f137.mp4"

	b = assignBucket(&video, &audio, "clip.f137.mp4")
	assert.Same(t, &video, b)

	b = assignBucket(&video, &audio, "clip.f140.m4a")
	assert.Same(t, &audio, b)
	audio.name = "clip.f140.m4a"

	// A third name lands in the audio bucket rather than growing state.
	b = assignBucket(&video, &audio, "clip.f251.webm")
	assert.Same(t, &audio, b)
}

func TestLocateOutputPrefersReportedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	got := locateOutput(dir, path, "Unrelated Title")
	assert.Equal(t, path, got)

	// Partial-download suffixes are stripped before the existence check.
	got = locateOutput(dir, path+".part", "Unrelated Title")
	assert.Equal(t, path, got)

	// Relative reported names resolve against the download folder.
	got = locateOutput(dir, "clip.mp4", "Unrelated Title")
	assert.Equal(t, path, got)
}

func TestLocateOutputScansByTitle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "My Video [abc123].mp4"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "My Video.description"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Other.mp4"), nil, 0644))

	got := locateOutput(dir, "", "My Video")
	assert.Equal(t, filepath.Join(dir, "My Video [abc123].mp4"), got)

	// A stale reported file that no longer exists falls back to the scan.
	got = locateOutput(dir, filepath.Join(dir, "gone.mp4"), "My Video")
	assert.Equal(t, filepath.Join(dir, "My Video [abc123].mp4"), got)
}

func TestLocateOutputSanitizesReservedCharacters(t *testing.T) {
	dir := t.TempDir()
	// The downloader writes reserved characters as fullwidth forms.
	name := "What？ A Video： Part 1.mkv"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))

	got := locateOutput(dir, "", `What? A Video: Part 1`)
	assert.Equal(t, filepath.Join(dir, name), got)
}

func TestLocateOutputNoMatch(t *testing.T) {
	assert.Empty(t, locateOutput(t.TempDir(), "", "Missing"))
	assert.Empty(t, locateOutput("", "", "Missing"))
	assert.Empty(t, locateOutput(t.TempDir(), "", ""))
}
