package ytdlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Event statuses handed to progress callbacks.
const (
	StatusDownloading    = "downloading"
	StatusFinished       = "finished"
	StatusPostprocessing = "postprocessing"
)

// Event is one normalized progress record parsed from the downloader's
// stdout. DownloadedBytes and TotalBytes refer to the fragment currently
// streaming; Percent is the global percentage over all fragments seen so
// far, clamped to [0,100].
type Event struct {
	Status          string
	Filename        string
	DownloadedBytes int64
	TotalBytes      int64
	Percent         float64
	PercentStr      string
	Speed           float64
	SpeedStr        string
	ETA             int
}

// ProgressFunc receives progress events. A non-nil return tears the
// download down cooperatively; the sentinel ErrPausedByUser marks the
// teardown as a user pause rather than a failure.
type ProgressFunc func(Event) error

// Progress line shapes, e.g.
//
//	[download]  45.2% of 10.5MiB at 2.3MiB/s ETA 00:03
//	[download] Destination: clip.f137.mp4
//	[download] 100% of 10.5MiB in 00:04
var (
	progressPattern = regexp.MustCompile(
		`\[download\]\s+(?P<percent>[\d.]+)%\s+of\s+~?\s*(?P<total>[\d.]+)(?P<totalUnit>\w+)` +
			`(?:\s+at\s+(?P<speed>[\d.]+)(?P<speedUnit>\w+)/s)?` +
			`(?:\s+ETA\s+(?P<eta>[\d:]+))?`)
	destinationPattern = regexp.MustCompile(`\[download\] Destination: (.+)`)
	completePattern    = regexp.MustCompile(`\[download\] 100%`)
	postprocessPattern = regexp.MustCompile(`^\[(?:Merger|ExtractAudio|VideoConvertor)\]`)
)

// lineProgress is the raw parse of one progress line, before fragment
// accounting.
type lineProgress struct {
	percent    float64
	total      int64
	downloaded int64
	speed      float64
	eta        int
}

// parseProgressLine parses a "[download] P% of TOTAL ..." line. An
// unparsable line returns false and must be treated as a no-op.
func parseProgressLine(line string) (lineProgress, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return lineProgress{}, false
	}

	groups := make(map[string]string, len(m))
	for i, name := range progressPattern.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}

	percent, err := strconv.ParseFloat(groups["percent"], 64)
	if err != nil {
		return lineProgress{}, false
	}
	if percent > 100 {
		percent = 100
	}

	totalSize, err := strconv.ParseFloat(groups["total"], 64)
	if err != nil {
		return lineProgress{}, false
	}
	total := convertToBytes(totalSize, groups["totalUnit"])

	p := lineProgress{
		percent:    percent,
		total:      total,
		downloaded: int64(float64(total) * percent / 100),
	}

	if groups["speed"] != "" {
		if speed, err := strconv.ParseFloat(groups["speed"], 64); err == nil {
			p.speed = float64(convertToBytes(speed, groups["speedUnit"]))
		}
	}
	if groups["eta"] != "" {
		p.eta = parseETA(groups["eta"])
	}

	return p, true
}

// convertToBytes decodes a size with its unit suffix. Binary units
// (KiB/MiB/GiB/TiB) use base 1024, decimal units (KB/MB/GB/TB) base 1000.
func convertToBytes(size float64, unit string) int64 {
	multiplier := 1000.0
	if strings.Contains(unit, "iB") {
		multiplier = 1024.0
		unit = strings.Replace(unit, "iB", "", 1)
	} else {
		unit = strings.Replace(unit, "B", "", 1)
	}

	factor := 1.0
	switch unit {
	case "K":
		factor = multiplier
	case "M":
		factor = multiplier * multiplier
	case "G":
		factor = multiplier * multiplier * multiplier
	case "T":
		factor = multiplier * multiplier * multiplier * multiplier
	}

	return int64(size * factor)
}

// parseETA converts "MM:SS" or "HH:MM:SS" to seconds.
func parseETA(eta string) int {
	parts := strings.Split(eta, ":")
	switch len(parts) {
	case 2:
		m, _ := strconv.Atoi(parts[0])
		s, _ := strconv.Atoi(parts[1])
		return m*60 + s
	case 3:
		h, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		s, _ := strconv.Atoi(parts[2])
		return h*3600 + m*60 + s
	default:
		return 0
	}
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
