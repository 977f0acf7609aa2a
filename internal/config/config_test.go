package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty folder", func(s *Settings) { s.DownloadFolder = "" }},
		{"unknown format", func(s *Settings) { s.Format = "avi" }},
		{"unknown video quality", func(s *Settings) { s.VideoQuality = "4320p" }},
		{"unknown audio quality", func(s *Settings) { s.AudioQuality = "64k" }},
		{"zero max downloads", func(s *Settings) { s.MaxDownloads = 0 }},
		{"excessive max downloads", func(s *Settings) { s.MaxDownloads = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestValidateRepairsSoftFields(t *testing.T) {
	s := DefaultSettings()
	s.ConcurrentFragments = 0
	s.OutputTemplate = ""
	require.NoError(t, s.Validate())
	assert.Equal(t, DefaultConcurrentFragments, s.ConcurrentFragments)
	assert.Equal(t, DefaultOutputTemplate, s.OutputTemplate)
}

func TestIsAudioFormat(t *testing.T) {
	s := DefaultSettings()
	assert.False(t, s.IsAudioFormat())
	s.Format = "mp3"
	assert.True(t, s.IsAudioFormat())
	s.Format = "wav"
	assert.True(t, s.IsAudioFormat())
}

func TestWorkerTarget(t *testing.T) {
	s := DefaultSettings()
	s.MaxDownloads = 5
	assert.Equal(t, 5, s.WorkerTarget())

	// Acceleration multiplies per-download connections, so the pool
	// collapses to one worker.
	s.UseAcceleration = true
	assert.Equal(t, 1, s.WorkerTarget())

	s.UseAcceleration = false
	s.MaxDownloads = 0
	assert.Equal(t, MinDownloads, s.WorkerTarget())
	s.MaxDownloads = 99
	assert.Equal(t, MaxDownloads, s.WorkerTarget())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, "mp4", cfg.Settings.Format)
	assert.Equal(t, 3, cfg.Settings.MaxDownloads)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"format": "mp3",
		"max_downloads": 5,
		"normalize_audio": true
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mp3", cfg.Settings.Format)
	assert.Equal(t, 5, cfg.Settings.MaxDownloads)
	assert.True(t, cfg.Settings.NormalizeAudio)
	// Unset keys fall back to defaults.
	assert.Equal(t, "best", cfg.Settings.VideoQuality)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"format": "avi"}`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Settings.Validate())
}
