package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrPausedByUser is the in-band sentinel returned by a progress callback
// to tear a download down as a user pause. Download propagates it without
// decoration so callers can distinguish a pause from a failure.
var ErrPausedByUser = errors.New("PAUSED_BY_USER")

// ErrStopped is returned by a progress callback during process shutdown.
var ErrStopped = errors.New("download stopped")

// DefaultInfoTimeout bounds ExtractInfo invocations.
const DefaultInfoTimeout = 30 * time.Second

// Wrapper owns all knowledge of the external downloader's CLI and textual
// progress protocol. It invokes the binary as a subprocess and translates
// its stdout into structured events.
type Wrapper struct {
	ytdlpPath   string
	ffmpegPath  string
	logger      *slog.Logger
	infoTimeout time.Duration
}

// NewWrapper creates a wrapper around the downloader binary at ytdlpPath.
// ffmpegPath may be empty when the muxer location is supplied per call.
func NewWrapper(ytdlpPath, ffmpegPath string, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		ytdlpPath:   ytdlpPath,
		ffmpegPath:  ffmpegPath,
		logger:      logger,
		infoTimeout: DefaultInfoTimeout,
	}
}

// fragment tracks one sub-file of a download (typically one video and one
// audio stream, muxed afterwards).
type fragment struct {
	total      int64
	downloaded int64
}

// Download invokes the downloader for url and streams progress events into
// hook. It returns nil on success, the hook's own error when the hook tore
// the download down (ErrPausedByUser untouched), and a descriptive error
// carrying the exit code and stderr tail otherwise.
func (w *Wrapper) Download(ctx context.Context, url string, opts Options, hook ProgressFunc) error {
	args := w.buildArgs(url, opts)
	w.logger.Info("invoking downloader", "binary", w.ytdlpPath, "args", args)

	cmd := exec.CommandContext(ctx, w.ytdlpPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start downloader: %w", err)
	}

	// Collect stderr for post-mortem reporting.
	var stderrBuf strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			stderrBuf.WriteString(line + "\n")
			w.logger.Debug("downloader stderr", "line", line)
		}
	}()

	var (
		currentFile  string
		current      *fragment
		fragments    []*fragment
		lastEvent    Event
		haveLast     bool
		hookErr      error
		sumTotal     int64
		sumDownload  int64
		emitAndCheck = func(ev Event) bool {
			if haveLast && ev == lastEvent {
				return true
			}
			lastEvent = ev
			haveLast = true
			if err := hook(ev); err != nil {
				hookErr = err
				// Cooperative teardown; the partial file stays on disk.
				_ = cmd.Process.Kill()
				return false
			}
			return true
		}
	)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if hookErr != nil {
			continue // drain until the killed process closes its pipe
		}

		if m := destinationPattern.FindStringSubmatch(line); m != nil {
			currentFile = m[1]
			current = &fragment{}
			w.logger.Debug("fragment started", "destination", currentFile)
			continue
		}

		if postprocessPattern.MatchString(line) {
			emitAndCheck(Event{Status: StatusPostprocessing, Filename: currentFile})
			continue
		}

		// The final summary line ("[download] 100% of ...") also matches
		// the progress shape, so it is checked first.
		if completePattern.MatchString(line) {
			emitAndCheck(Event{Status: StatusFinished, Filename: currentFile, Percent: 100, PercentStr: "100%"})
			continue
		}

		if p, ok := parseProgressLine(line); ok && current != nil {
			if current.total == 0 {
				current.total = p.total
				fragments = append(fragments, current)
			}
			current.downloaded = p.downloaded

			sumTotal, sumDownload = 0, 0
			for _, f := range fragments {
				sumTotal += f.total
				sumDownload += f.downloaded
			}
			if sumTotal <= 0 {
				continue
			}

			percent := float64(sumDownload) * 100 / float64(sumTotal)
			if percent > 100 {
				percent = 100
			}

			emitAndCheck(Event{
				Status:          StatusDownloading,
				Filename:        currentFile,
				DownloadedBytes: p.downloaded,
				TotalBytes:      p.total,
				Percent:         percent,
				PercentStr:      formatPercent(percent),
				Speed:           p.speed,
				ETA:             p.eta,
			})
			continue
		}
		// Any other line is a no-op; the protocol drifts across versions.
	}

	<-stderrDone
	waitErr := cmd.Wait()

	if hookErr != nil {
		return hookErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		msg := "downloader failed"
		if errors.As(waitErr, &exitErr) {
			msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
		}
		if tail := strings.TrimSpace(stderrBuf.String()); tail != "" {
			msg += ": " + tail
		}
		return errors.New(msg)
	}

	return nil
}

// ExtractInfo runs the downloader in JSON-dump mode and returns the parsed
// metadata document. Multiple JSON lines are folded into a playlist info
// object. The invocation is time-limited; a timeout returns (nil, false).
func (w *Wrapper) ExtractInfo(ctx context.Context, url string, opts Options) (*Info, bool) {
	ctx, cancel := context.WithTimeout(ctx, w.infoTimeout)
	defer cancel()

	args := w.buildInfoArgs(url, opts)
	w.logger.Info("extracting info", "binary", w.ytdlpPath, "args", args)

	cmd := exec.CommandContext(ctx, w.ytdlpPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			w.logger.Error("extract info timed out", "url", url)
		} else {
			w.logger.Error("extract info failed", "url", url, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		}
		return nil, false
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")

	var entries []*Info
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var info Info
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			w.logger.Debug("skipping unparsable info line", "error", err)
			continue
		}
		entries = append(entries, &info)
	}

	switch len(entries) {
	case 0:
		return nil, false
	case 1:
		return entries[0], true
	default:
		return &Info{Type: "playlist", Entries: entries}, true
	}
}

// YtdlpPath returns the downloader binary path the wrapper was built with.
func (w *Wrapper) YtdlpPath() string {
	return w.ytdlpPath
}

// FFmpegPath returns the muxer binary path the wrapper was built with.
func (w *Wrapper) FFmpegPath() string {
	return w.ffmpegPath
}

// CleanFragmentName strips the downloader's transient suffixes from a
// fragment path and returns the base name.
func CleanFragmentName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".part", ".ytdl"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}
