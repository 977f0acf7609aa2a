package ytdlp

import (
	"strconv"
)

// DefaultFragmentRetries is the retry count appended to every download
// invocation.
const DefaultFragmentRetries = 10

// Options is the downloader option record. The wrapper owns the translation
// into CLI arguments; callers never build argument vectors themselves.
type Options struct {
	// OutputTemplate is the full output path template (folder joined with
	// the filename template).
	OutputTemplate string

	// Format is the downloader format selector expression.
	Format string

	// MergeOutputFormat is the container the muxer merges fragments into.
	MergeOutputFormat string

	// FFmpegLocation overrides the wrapper-held muxer path.
	FFmpegLocation string

	// NoPlaylist restricts a watch URL carrying a list parameter to the
	// single video.
	NoPlaylist bool

	// ExtractAudio converts the download to an audio file of AudioFormat.
	ExtractAudio bool
	AudioFormat  string

	// AudioQuality is passed through on audio extraction when set
	// (e.g. "192k").
	AudioQuality string

	// PostprocessorArgs maps a post-processor name (the muxer) to its
	// extra arguments. Consecutive pairs are folded into "key value"
	// strings; a trailing singleton is passed alone.
	PostprocessorArgs map[string][]string

	// ConcurrentFragments splits the download into parallel fragment
	// fetches when > 0.
	ConcurrentFragments int

	// Overwrites forces overwriting finished files. Omitted on resume so
	// partial files are continued instead.
	Overwrites bool

	// ExtractFlat lists playlist entries without resolving each video.
	// Only meaningful for ExtractInfo.
	ExtractFlat bool

	// FragmentRetries overrides DefaultFragmentRetries when > 0.
	FragmentRetries int
}

// buildArgs translates the option record into the downloader argument
// vector. The binary path itself is not included.
func (w *Wrapper) buildArgs(url string, opts Options) []string {
	var args []string

	if opts.OutputTemplate != "" {
		args = append(args, "--output", opts.OutputTemplate)
	}

	if opts.Format != "" {
		args = append(args, "--format", opts.Format)
	}

	if opts.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", opts.MergeOutputFormat)
	}

	switch {
	case opts.FFmpegLocation != "":
		args = append(args, "--ffmpeg-location", opts.FFmpegLocation)
	case w.ffmpegPath != "":
		args = append(args, "--ffmpeg-location", w.ffmpegPath)
	}

	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}

	if opts.ExtractAudio {
		args = append(args, "--extract-audio")
		if opts.AudioFormat != "" {
			args = append(args, "--audio-format", opts.AudioFormat)
		}
		if opts.AudioQuality != "" {
			args = append(args, "--audio-quality", opts.AudioQuality)
		}
	}

	if ppArgs, ok := opts.PostprocessorArgs["ffmpeg"]; ok {
		for i := 0; i < len(ppArgs); {
			if i+1 < len(ppArgs) {
				args = append(args, "--postprocessor-args", "ffmpeg:"+ppArgs[i]+" "+ppArgs[i+1])
				i += 2
			} else {
				args = append(args, "--postprocessor-args", "ffmpeg:"+ppArgs[i])
				i++
			}
		}
	}

	if opts.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(opts.ConcurrentFragments))
	}

	if opts.Overwrites {
		args = append(args, "--force-overwrites")
	}

	retries := opts.FragmentRetries
	if retries <= 0 {
		retries = DefaultFragmentRetries
	}
	args = append(args, "--no-warnings", "--continue", "--fragment-retries", strconv.Itoa(retries))

	args = append(args, url)

	return args
}

// buildInfoArgs translates the option record into the JSON-dump argument
// vector used by ExtractInfo.
func (w *Wrapper) buildInfoArgs(url string, opts Options) []string {
	args := []string{"--dump-json", "--no-warnings"}

	if opts.ExtractFlat {
		args = append(args, "--flat-playlist")
	}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if opts.Format != "" {
		args = append(args, "--format", opts.Format)
	}

	args = append(args, url)

	return args
}
