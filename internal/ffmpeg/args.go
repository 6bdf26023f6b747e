package ffmpeg

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecordRequest describes one capture
type RecordRequest struct {
	URL     string
	Output  string
	Headers map[string]string

	// Duration limits the capture; zero records until the stream ends or
	// the process is stopped
	Duration time.Duration

	// Volume re-encodes audio with a gain filter when set to anything but 1.0
	Volume *float64

	// ExtraArgs are inserted before the stream mapping
	ExtraArgs []string
}

// isHTTP reports whether rawURL uses http or https
func isHTTP(rawURL string) bool {
	if !strings.Contains(rawURL, "://") {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// reconnectArgs keep HTTP inputs alive across short network drops
func reconnectArgs() []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_delay_max", "30",
		"-rw_timeout", strconv.Itoa(60 * 1000000),
	}
}

// headerBlock joins headers as CRLF separated "Key: Value" lines, sorted by key
func headerBlock(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+headers[k])
	}
	return strings.Join(lines, "\r\n")
}

func reencodeAudio(volume *float64) bool {
	if volume == nil {
		return false
	}
	d := *volume - 1.0
	return d > 1e-3 || d < -1e-3
}

// RecordArgs builds the ffmpeg argument list for req, without the binary name
func RecordArgs(req RecordRequest) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-fflags", "+genpts",
		"-avoid_negative_ts", "make_zero",
		"-async", "1",
		"-y",
	}

	if isHTTP(req.URL) {
		args = append(args, reconnectArgs()...)
		if len(req.Headers) > 0 {
			args = append(args, "-headers", headerBlock(req.Headers))
		}
	}

	// HLS demuxer options only apply when given before the input
	if strings.Contains(req.URL, ".m3u8") {
		args = append(args,
			"-analyzeduration", "10M",
			"-probesize", "10M",
			"-max_reload", "1000",
		)
	}

	args = append(args, "-i", req.URL)

	if req.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(req.Duration.Seconds(), 'f', -1, 64))
	}
	args = append(args, req.ExtraArgs...)

	reencode := reencodeAudio(req.Volume)
	if reencode {
		vol := *req.Volume
		if vol < 0 {
			vol = 0
		}
		args = append(args, "-af", "volume="+strconv.FormatFloat(vol, 'f', -1, 64))
	}

	args = append(args, "-map", "0:v:0", "-map", "0:a:0?", "-c:v", "copy", "-copyts")
	if reencode {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-c:a", "copy")
	}

	if strings.HasSuffix(strings.ToLower(req.Output), ".mp4") {
		args = append(args,
			"-tag:v", "avc1",
			"-tag:a", "mp4a",
			"-bsf:a", "aac_adtstoasc",
			"-movflags", "+faststart+frag_keyframe+empty_moov+default_base_moof",
			"-frag_duration", "1000000",
			"-min_frag_duration", "1000000",
		)
	} else {
		args = append(args, "-tag:v", "0", "-tag:a", "0")
	}

	return append(args, req.Output)
}

// PreviewRequest describes a low-latency ffplay preview
type PreviewRequest struct {
	URL       string
	Headers   map[string]string
	UserAgent string

	// Window embeds playback into an existing native window handle
	Window uintptr

	Width, Height int

	// Volume is clamped to 0..100; nil keeps the ffplay default
	Volume *int

	// HighLatency disables the low-latency demuxer flags
	HighLatency bool
}

// PreviewArgs builds the ffplay argument list for req
func PreviewArgs(req PreviewRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-autoexit"}

	if strings.HasPrefix(req.URL, "http") {
		args = append(args, reconnectArgs()...)
		if len(req.Headers) > 0 {
			args = append(args, "-headers", headerBlock(req.Headers))
		}
		if req.UserAgent != "" {
			args = append(args, "-user_agent", req.UserAgent)
		}
	}

	if !req.HighLatency {
		args = append(args, "-fflags", "nobuffer", "-flags", "low_delay", "-probesize", "32k", "-analyzeduration", "0")
	}

	if req.Volume != nil {
		v := min(max(*req.Volume, 0), 100)
		args = append(args, "-volume", strconv.Itoa(v))
	}

	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-x", strconv.Itoa(req.Width), "-y", strconv.Itoa(req.Height))
	}

	return append(args, "-i", req.URL)
}

// ProbeArgs builds the ffprobe argument list for a JSON stream report
func ProbeArgs(rawURL, userAgent string, headers map[string]string) []string {
	args := []string{"-hide_banner", "-v", "error", "-show_streams", "-show_format", "-of", "json"}
	if userAgent != "" {
		args = append(args, "-user_agent", userAgent)
	}
	if len(headers) > 0 {
		args = append(args, "-headers", headerBlock(headers))
	}
	return append(args, rawURL)
}
