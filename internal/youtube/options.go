package youtube

import (
	"path/filepath"
	"strings"

	"github.com/ytgrab/ytgrab/internal/config"
	"github.com/ytgrab/ytgrab/internal/ytdlp"
)

const (
	audioChannels  = "2"
	loudnormFilter = "loudnorm=I=-14:TP=-1"
)

// BuildOptions translates a settings snapshot into the downloader option
// record for one task. isPlaylist selects whether a watch URL with a list
// parameter expands or stays single.
func BuildOptions(s config.Settings, isPlaylist bool) ytdlp.Options {
	opts := ytdlp.Options{
		OutputTemplate: filepath.Join(s.DownloadFolder, s.OutputTemplate),
		NoPlaylist:     !isPlaylist,
		// Resumed tasks continue their partial files instead of restarting.
		Overwrites: !s.IsResume,
	}

	applyFormat(&opts, s)

	if s.NormalizeAudio {
		appendFFmpegArgs(&opts, "-af", loudnormFilter)
	}

	if s.UseAcceleration {
		n := s.ConcurrentFragments
		if n < 1 {
			n = config.DefaultConcurrentFragments
		}
		opts.ConcurrentFragments = n
	}

	return opts
}

// InfoOptions returns the option record for metadata extraction. Playlist
// lookups list entries flat instead of resolving every video.
func InfoOptions(s config.Settings, isPlaylist bool) ytdlp.Options {
	opts := ytdlp.Options{
		NoPlaylist:  !isPlaylist,
		ExtractFlat: isPlaylist,
	}
	applyFormat(&opts, s)
	return opts
}

// applyFormat fills the format selector and the audio post-processing
// options from the settings record.
func applyFormat(opts *ytdlp.Options, s config.Settings) {
	if s.IsAudioFormat() {
		opts.Format = "bestaudio/best"
		opts.ExtractAudio = true
		opts.AudioFormat = s.Format
		if s.AudioQuality != "" && s.AudioQuality != "best" && s.AudioQuality != "worst" {
			opts.AudioQuality = s.AudioQuality
		}
		appendFFmpegArgs(opts, "-ac", audioChannels)
		return
	}

	opts.MergeOutputFormat = s.Format

	q := s.VideoQuality
	switch {
	case q == "best" || q == "worst":
		opts.Format = q + "video+" + q + "audio/best"
	case isDigits(strings.TrimSuffix(q, "p")):
		h := strings.TrimSuffix(q, "p")
		opts.Format = "bestvideo[height<=" + h + "]+bestaudio/best[height<=" + h + "]"
	default:
		opts.Format = "bestvideo+bestaudio/best"
	}
}

func appendFFmpegArgs(opts *ytdlp.Options, args ...string) {
	if opts.PostprocessorArgs == nil {
		opts.PostprocessorArgs = map[string][]string{}
	}
	opts.PostprocessorArgs["ffmpeg"] = append(opts.PostprocessorArgs["ffmpeg"], args...)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
