// Package ffmpeg builds command lines for and launches the ffmpeg, ffprobe
// and ffplay binaries.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Runner launches the media binaries at the configured paths
type Runner struct {
	FFmpeg  string
	FFprobe string
	FFplay  string

	log zerolog.Logger
}

// NewRunner creates a runner; empty paths fall back to the binary names on PATH
func NewRunner(ffmpegPath, ffprobePath, ffplayPath string, log zerolog.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if ffplayPath == "" {
		ffplayPath = "ffplay"
	}
	return &Runner{
		FFmpeg:  ffmpegPath,
		FFprobe: ffprobePath,
		FFplay:  ffplayPath,
		log:     log.With().Str("component", "ffmpeg").Logger(),
	}
}

// SpawnRecord starts a capture and returns without waiting for it
func (r *Runner) SpawnRecord(req RecordRequest) (*Process, error) {
	args := RecordArgs(req)
	cmd := exec.Command(r.FFmpeg, args...)
	hideWindow(cmd)

	proc, err := startProcess(cmd, true)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Int("pid", proc.PID()).Str("output", req.Output).Strs("args", args).Msg("capture started")
	return proc, nil
}

// EnsureAvailable checks that ffmpeg runs and identifies itself
func (r *Runner) EnsureAvailable(ctx context.Context) error {
	return checkVersion(ctx, r.FFmpeg, "ffmpeg version")
}

// EnsurePreviewAvailable checks that ffplay runs
func (r *Runner) EnsurePreviewAvailable(ctx context.Context) error {
	return checkVersion(ctx, r.FFplay, "ffplay version")
}

func checkVersion(ctx context.Context, binary, banner string) error {
	cmd := exec.CommandContext(ctx, binary, "-version")
	hideWindow(cmd)

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, binary, err)
	}
	if !strings.Contains(string(output), banner) {
		return fmt.Errorf("%w: %s did not report %q", ErrNotFound, binary, banner)
	}
	return nil
}

// ProbeResult is the subset of the ffprobe JSON report that is surfaced
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one elementary stream
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Profile    string `json:"profile,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FrameRate  string `json:"avg_frame_rate,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// ProbeFormat describes the container
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	LongName   string `json:"format_long_name"`
	Duration   string `json:"duration,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// Video returns the first video stream, if any
func (p *ProbeResult) Video() (ProbeStream, bool) {
	return p.firstOf("video")
}

// Audio returns the first audio stream, if any
func (p *ProbeResult) Audio() (ProbeStream, bool) {
	return p.firstOf("audio")
}

func (p *ProbeResult) firstOf(kind string) (ProbeStream, bool) {
	for _, s := range p.Streams {
		if s.CodecType == kind {
			return s, true
		}
	}
	return ProbeStream{}, false
}

// Probe runs ffprobe against rawURL and decodes its JSON report
func (r *Runner) Probe(ctx context.Context, rawURL, userAgent string, headers map[string]string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, r.FFprobe, ProbeArgs(rawURL, userAgent, headers)...)
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, &LaunchError{Binary: r.FFprobe, Err: err}
	}

	return decodeProbe(stdout.Bytes())
}

func decodeProbe(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}
	return &result, nil
}

// Preview starts ffplay. Stderr is discarded; the process is owned by the caller.
func (r *Runner) Preview(req PreviewRequest) (*Process, error) {
	cmd := exec.Command(r.FFplay, PreviewArgs(req)...)
	cmd.Env = previewEnv(os.Environ(), req.Window)
	hideWindow(cmd)

	return startProcess(cmd, false)
}

// previewEnv adds the SDL variables that embed playback into a native window
func previewEnv(base []string, window uintptr) []string {
	env := append([]string(nil), base...)
	if window == 0 {
		return env
	}
	env = append(env,
		"SDL_WINDOWID="+strconv.FormatUint(uint64(window), 10),
		"SDL_VIDEO_WINDOW_POS=0,0",
		"SDL_VIDEO_CENTERED=0",
	)
	if sdlVideoDriver != "" {
		env = append(env, "SDL_VIDEODRIVER="+sdlVideoDriver)
	}
	return env
}
