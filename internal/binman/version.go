package binman

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const versionFileName = ".version.json"

// versionFile records the installed tool versions and when the release
// APIs were last consulted.
type versionFile struct {
	YtDlp     string    `json:"yt-dlp"`
	FFmpeg    string    `json:"ffmpeg"`
	LastCheck time.Time `json:"last_check"`
}

func (m *Manager) versionPath() string {
	return filepath.Join(m.binDir, versionFileName)
}

func (m *Manager) readVersions() versionFile {
	var vf versionFile
	data, err := os.ReadFile(m.versionPath())
	if err != nil {
		return vf
	}
	if err := json.Unmarshal(data, &vf); err != nil {
		m.logger.Warn("corrupt version file, ignoring", "path", m.versionPath(), "error", err)
		return versionFile{}
	}
	return vf
}

func (m *Manager) writeVersions(vf versionFile) {
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.versionPath(), data, 0644); err != nil {
		m.logger.Warn("failed to write version file", "path", m.versionPath(), "error", err)
	}
}
