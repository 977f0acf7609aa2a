package ytdlp

// Info is the downloader's JSON metadata document. Only the fields the
// application reads are declared; everything else is dropped on decode.
type Info struct {
	Type       string  `json:"_type,omitempty"`
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Uploader   string  `json:"uploader,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	WebpageURL string  `json:"webpage_url,omitempty"`
	URL        string  `json:"url,omitempty"`

	Filesize       int64  `json:"filesize,omitempty"`
	FilesizeApprox int64  `json:"filesize_approx,omitempty"`
	VCodec         string `json:"vcodec,omitempty"`
	ACodec         string `json:"acodec,omitempty"`

	// RequestedFormats lists the formats actually selected by the format
	// expression; Formats lists everything the extractor found.
	RequestedFormats []Format `json:"requested_formats,omitempty"`
	Formats          []Format `json:"formats,omitempty"`

	Entries []*Info `json:"entries,omitempty"`
}

// Format is one stream variant inside an Info document.
type Format struct {
	FormatID       string `json:"format_id,omitempty"`
	Filesize       int64  `json:"filesize,omitempty"`
	FilesizeApprox int64  `json:"filesize_approx,omitempty"`
	VCodec         string `json:"vcodec,omitempty"`
	ACodec         string `json:"acodec,omitempty"`
}

// IsPlaylist reports whether the document describes a playlist.
func (i *Info) IsPlaylist() bool {
	return i.Type == "playlist" || len(i.Entries) > 0
}

// Size returns the best available byte size for a format entry.
func (f Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// HasVideo reports whether the format carries a video stream.
func (f Format) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio stream.
func (f Format) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}
