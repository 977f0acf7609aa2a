// Package binman installs and updates the downloader and muxer binaries
// from their upstream release feeds.
package binman

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
)

const (
	defaultYtdlpAPI  = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"
	defaultFFmpegAPI = "https://api.github.com/repos/BtbN/FFmpeg-Builds/releases/latest"

	// checkInterval throttles release API calls across runs.
	checkInterval = 12 * time.Hour

	downloadChunkSize = 8192
)

// Component names accepted by Update.
const (
	ComponentYtDlp  = "yt-dlp"
	ComponentFFmpeg = "ffmpeg"
)

// ProgressFunc reports download progress for one component. total is 0
// when the feed does not announce a size.
type ProgressFunc func(component string, downloaded, total int64)

// release is the subset of the GitHub release document the manager reads.
type release struct {
	TagName     string  `json:"tag_name"`
	PublishedAt string  `json:"published_at"`
	Assets      []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Updates describes what a check found.
type Updates struct {
	YtDlpInstalled  string
	YtDlpLatest     string
	FFmpegInstalled string
	FFmpegLatest    string
	Checked         bool
}

// YtDlpOutdated reports whether a newer downloader release exists.
func (u Updates) YtDlpOutdated() bool {
	return u.YtDlpLatest != "" && u.YtDlpLatest != u.YtDlpInstalled
}

// FFmpegOutdated reports whether a newer muxer build exists.
func (u Updates) FFmpegOutdated() bool {
	return u.FFmpegLatest != "" && u.FFmpegLatest != u.FFmpegInstalled
}

// Manager owns the tool binaries under a single directory.
type Manager struct {
	binDir string
	client *resty.Client
	logger *slog.Logger

	ytdlpAPI  string
	ffmpegAPI string
	now       func() time.Time
}

// New creates a manager over binDir.
func New(binDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		binDir:    binDir,
		client:    resty.New().SetTimeout(2 * time.Minute),
		logger:    logger,
		ytdlpAPI:  defaultYtdlpAPI,
		ffmpegAPI: defaultFFmpegAPI,
		now:       time.Now,
	}
}

// YtdlpPath returns the managed downloader binary path.
func (m *Manager) YtdlpPath() string {
	return filepath.Join(m.binDir, exeName("yt-dlp"))
}

// FFmpegPath returns the managed muxer binary path.
func (m *Manager) FFmpegPath() string {
	return filepath.Join(m.binDir, exeName("ffmpeg"))
}

// EnsurePresent installs any missing binary. Present binaries are left
// alone; use Update to refresh them.
func (m *Manager) EnsurePresent(ctx context.Context, progress ProgressFunc) error {
	var missing []string
	if _, err := os.Stat(m.YtdlpPath()); err != nil {
		missing = append(missing, ComponentYtDlp)
	}
	if _, err := os.Stat(m.FFmpegPath()); err != nil {
		missing = append(missing, ComponentFFmpeg)
	}
	if len(missing) == 0 {
		return nil
	}
	return m.Update(ctx, missing, progress)
}

// CheckUpdates compares installed versions against the latest releases.
// Checks are throttled to once per interval unless force is set; a
// throttled call returns the installed versions with Checked false.
func (m *Manager) CheckUpdates(ctx context.Context, force bool) (Updates, error) {
	vf := m.readVersions()
	u := Updates{YtDlpInstalled: vf.YtDlp, FFmpegInstalled: vf.FFmpeg}

	if !force && !vf.LastCheck.IsZero() && m.now().Sub(vf.LastCheck) < checkInterval {
		return u, nil
	}

	ytRel, err := m.fetchRelease(ctx, m.ytdlpAPI)
	if err != nil {
		return u, fmt.Errorf("failed to check downloader releases: %w", err)
	}
	u.YtDlpLatest = strings.TrimPrefix(ytRel.TagName, "v")

	ffRel, err := m.fetchRelease(ctx, m.ffmpegAPI)
	if err != nil {
		return u, fmt.Errorf("failed to check muxer releases: %w", err)
	}
	u.FFmpegLatest = ffmpegVersion(ffRel.PublishedAt)
	u.Checked = true

	vf.LastCheck = m.now()
	m.writeVersions(vf)

	return u, nil
}

// Update downloads and installs the named components. Partial files are
// removed on failure or cancellation.
func (m *Manager) Update(ctx context.Context, components []string, progress ProgressFunc) error {
	if err := os.MkdirAll(m.binDir, 0755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}

	vf := m.readVersions()

	for _, comp := range components {
		switch comp {
		case ComponentYtDlp:
			version, err := m.installYtDlp(ctx, progress)
			if err != nil {
				return err
			}
			vf.YtDlp = version
		case ComponentFFmpeg:
			version, err := m.installFFmpeg(ctx, progress)
			if err != nil {
				return err
			}
			vf.FFmpeg = version
		default:
			return fmt.Errorf("unknown component %q", comp)
		}
	}

	m.writeVersions(vf)
	return nil
}

func (m *Manager) installYtDlp(ctx context.Context, progress ProgressFunc) (string, error) {
	rel, err := m.fetchRelease(ctx, m.ytdlpAPI)
	if err != nil {
		return "", fmt.Errorf("failed to fetch downloader release: %w", err)
	}

	wantName := exeName("yt-dlp")
	a := findAsset(rel.Assets, func(name string) bool { return name == wantName })
	if a == nil {
		return "", fmt.Errorf("release %s has no asset %q", rel.TagName, wantName)
	}

	if err := m.downloadFile(ctx, ComponentYtDlp, a, m.YtdlpPath(), 0755, progress); err != nil {
		return "", err
	}

	version := strings.TrimPrefix(rel.TagName, "v")
	m.logger.Info("installed downloader", "version", version)
	return version, nil
}

func (m *Manager) installFFmpeg(ctx context.Context, progress ProgressFunc) (string, error) {
	rel, err := m.fetchRelease(ctx, m.ffmpegAPI)
	if err != nil {
		return "", fmt.Errorf("failed to fetch muxer release: %w", err)
	}

	wantSubstr := ffmpegAssetSubstring()
	a := findAsset(rel.Assets, func(name string) bool { return strings.Contains(name, wantSubstr) })
	if a == nil {
		return "", fmt.Errorf("muxer release has no asset matching %q", wantSubstr)
	}

	archivePath := filepath.Join(m.binDir, a.Name+".tmp-"+uuid.NewString())
	if err := m.downloadTo(ctx, ComponentFFmpeg, a, archivePath, 0644, progress); err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	if err := m.extractFFmpeg(archivePath, a.Name); err != nil {
		return "", err
	}

	version := ffmpegVersion(rel.PublishedAt)
	m.logger.Info("installed muxer", "version", version)
	return version, nil
}

// extractFFmpeg pulls the muxer binary out of the release archive by its
// interior filename. The upstream feed ships zip archives for Windows
// and tar.xz archives everywhere else.
func (m *Manager) extractFFmpeg(archivePath, assetName string) error {
	if strings.HasSuffix(assetName, ".tar.xz") {
		return m.extractFFmpegTarXz(archivePath)
	}
	return m.extractFFmpegZip(archivePath)
}

func (m *Manager) extractFFmpegZip(archivePath string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open muxer archive: %w", err)
	}
	defer r.Close()

	want := "/" + exeName("ffmpeg")
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, want) {
			continue
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}
		installErr := m.installFFmpegBinary(src)
		src.Close()
		return installErr
	}

	return fmt.Errorf("muxer binary not found in archive")
}

func (m *Manager) extractFFmpegTarXz(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open muxer archive: %w", err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to decompress muxer archive: %w", err)
	}

	want := "/" + exeName("ffmpeg")
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read muxer archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, want) {
			continue
		}
		return m.installFFmpegBinary(tr)
	}

	return fmt.Errorf("muxer binary not found in archive")
}

// installFFmpegBinary streams the archive entry into place through a temp
// file so a failed extraction never clobbers a working binary.
func (m *Manager) installFFmpegBinary(src io.Reader) error {
	tmp := m.FFmpegPath() + ".tmp-" + uuid.NewString()
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	_, copyErr := io.Copy(dst, src)
	dst.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to extract muxer: %w", copyErr)
	}
	return os.Rename(tmp, m.FFmpegPath())
}

// downloadFile streams an asset straight to its final path through a temp
// file.
func (m *Manager) downloadFile(ctx context.Context, component string, a *asset, dest string, perm os.FileMode, progress ProgressFunc) error {
	tmp := dest + ".tmp-" + uuid.NewString()
	if err := m.downloadTo(ctx, component, a, tmp, perm, progress); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// downloadTo streams an asset to path, reporting progress per chunk and
// honoring cancellation between chunks. The partial file is removed on
// failure.
func (m *Manager) downloadTo(ctx context.Context, component string, a *asset, path string, perm os.FileMode, progress ProgressFunc) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(a.BrowserDownloadURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", component, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return fmt.Errorf("failed to download %s: status %d", component, resp.StatusCode())
	}

	total := a.Size
	if total == 0 {
		total = resp.RawResponse.ContentLength
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	var downloaded int64
	buf := make([]byte, downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(path)
				return fmt.Errorf("failed to write %s: %w", path, writeErr)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(component, downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("failed to download %s: %w", component, readErr)
		}
	}

	return f.Close()
}

func (m *Manager) fetchRelease(ctx context.Context, url string) (*release, error) {
	var rel release
	resp, err := m.client.R().
		SetContext(ctx).
		SetResult(&rel).
		ForceContentType("application/json").
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode(), url)
	}
	return &rel, nil
}

func findAsset(assets []asset, match func(string) bool) *asset {
	for i := range assets {
		if match(assets[i].Name) {
			return &assets[i]
		}
	}
	return nil
}

// ffmpegVersion derives a version string from the build's publish date.
func ffmpegVersion(publishedAt string) string {
	if len(publishedAt) < 10 {
		return publishedAt
	}
	return strings.ReplaceAll(publishedAt[:10], "-", ".")
}

// ffmpegAssetSubstring selects the static build matching the platform.
// The feed publishes zip archives for Windows and tar.xz for Linux.
func ffmpegAssetSubstring() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg-master-latest-win64-gpl.zip"
	}
	return "ffmpeg-master-latest-linux64-gpl.tar.xz"
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
