package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexOf returns the position of flag in args, or -1
func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func valueOf(t *testing.T, args []string, flag string) string {
	t.Helper()
	i := indexOf(args, flag)
	require.GreaterOrEqual(t, i, 0, "missing %s", flag)
	require.Less(t, i+1, len(args))
	return args[i+1]
}

func TestRecordArgsHLSToMP4(t *testing.T) {
	args := RecordArgs(RecordRequest{
		URL:    "https://edge1.live.mmcdn.com/hls/playlist.m3u8",
		Output: "/rec/alice/alice_20240101_120000.mp4",
		Headers: map[string]string{
			"User-Agent": "UA",
			"Referer":    "https://chaturbate.com/alice/",
		},
	})

	assert.Equal(t, []string{"-hide_banner", "-nostats", "-loglevel", "error"}, args[:4])
	assert.Equal(t, "/rec/alice/alice_20240101_120000.mp4", args[len(args)-1])

	input := indexOf(args, "-i")
	require.Greater(t, input, 0)
	assert.Equal(t, "https://edge1.live.mmcdn.com/hls/playlist.m3u8", args[input+1])

	// Input options precede -i
	for _, flag := range []string{"-reconnect", "-rw_timeout", "-headers", "-analyzeduration", "-probesize", "-max_reload"} {
		i := indexOf(args, flag)
		assert.True(t, i >= 0 && i < input, "%s must come before -i", flag)
	}
	assert.Equal(t, "60000000", valueOf(t, args, "-rw_timeout"))
	assert.Equal(t, "Referer: https://chaturbate.com/alice/\r\nUser-Agent: UA", valueOf(t, args, "-headers"))

	assert.Equal(t, "copy", valueOf(t, args, "-c:v"))
	assert.Equal(t, "copy", valueOf(t, args, "-c:a"))
	assert.Equal(t, "avc1", valueOf(t, args, "-tag:v"))
	assert.Equal(t, "aac_adtstoasc", valueOf(t, args, "-bsf:a"))
	assert.Equal(t, "+faststart+frag_keyframe+empty_moov+default_base_moof", valueOf(t, args, "-movflags"))
	assert.Equal(t, -1, indexOf(args, "-t"))
	assert.Equal(t, -1, indexOf(args, "-af"))
	assert.Equal(t, -1, indexOf(args, "-hls_time"))
}

func TestRecordArgsLocalToMKV(t *testing.T) {
	args := RecordArgs(RecordRequest{
		URL:     "/tmp/input.flv",
		Output:  "/rec/out.mkv",
		Headers: map[string]string{"Referer": "x"},
	})

	assert.Equal(t, -1, indexOf(args, "-reconnect"))
	assert.Equal(t, -1, indexOf(args, "-headers"), "headers only apply to http inputs")
	assert.Equal(t, -1, indexOf(args, "-max_reload"))
	assert.Equal(t, "0", valueOf(t, args, "-tag:v"))
	assert.Equal(t, "0", valueOf(t, args, "-tag:a"))
	assert.Equal(t, -1, indexOf(args, "-movflags"))
}

func TestRecordArgsVolumeAndDuration(t *testing.T) {
	loud := 1.5
	unity := 1.0

	tests := []struct {
		name       string
		volume     *float64
		wantFilter string
		wantCodec  string
	}{
		{name: "no volume", volume: nil, wantCodec: "copy"},
		{name: "unity volume", volume: &unity, wantCodec: "copy"},
		{name: "louder", volume: &loud, wantFilter: "volume=1.5", wantCodec: "aac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := RecordArgs(RecordRequest{
				URL:      "http://example.com/live.flv",
				Output:   "/rec/out.mp4",
				Duration: 90 * time.Second,
				Volume:   tt.volume,
			})

			assert.Equal(t, "90", valueOf(t, args, "-t"))
			assert.Equal(t, tt.wantCodec, valueOf(t, args, "-c:a"))
			if tt.wantFilter == "" {
				assert.Equal(t, -1, indexOf(args, "-af"))
			} else {
				assert.Equal(t, tt.wantFilter, valueOf(t, args, "-af"))
				assert.Equal(t, "192k", valueOf(t, args, "-b:a"))
			}
		})
	}
}

func TestPreviewArgs(t *testing.T) {
	vol := 150
	args := PreviewArgs(PreviewRequest{
		URL:       "https://example.com/master.m3u8",
		UserAgent: "UA",
		Width:     640,
		Height:    360,
		Volume:    &vol,
	})

	assert.Equal(t, "https://example.com/master.m3u8", args[len(args)-1])
	assert.Equal(t, "-i", args[len(args)-2])
	assert.Equal(t, "100", valueOf(t, args, "-volume"))
	assert.Equal(t, "640", valueOf(t, args, "-x"))
	assert.Equal(t, "360", valueOf(t, args, "-y"))
	assert.Equal(t, "nobuffer", valueOf(t, args, "-fflags"))
	assert.Equal(t, "UA", valueOf(t, args, "-user_agent"))

	args = PreviewArgs(PreviewRequest{URL: "/tmp/a.mp4", HighLatency: true})
	assert.Equal(t, -1, indexOf(args, "-fflags"))
	assert.Equal(t, -1, indexOf(args, "-reconnect"))
}

func TestPreviewEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin"}

	assert.Equal(t, base, previewEnv(base, 0))

	env := previewEnv(base, 4242)
	assert.Contains(t, env, "SDL_WINDOWID=4242")
	assert.Contains(t, env, "PATH=/usr/bin")
	assert.Len(t, base, 1, "base environment is not modified")
}

func TestProbeArgs(t *testing.T) {
	args := ProbeArgs("https://example.com/a.m3u8", "UA", map[string]string{"Referer": "r"})

	assert.Equal(t, "json", valueOf(t, args, "-of"))
	assert.Equal(t, "Referer: r", valueOf(t, args, "-headers"))
	assert.True(t, strings.HasSuffix(args[len(args)-1], "a.m3u8"))
}

func TestDecodeProbe(t *testing.T) {
	report := `{
		"streams": [
			{"index": 0, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2},
			{"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30/1"}
		],
		"format": {"format_name": "hls", "format_long_name": "Apple HTTP Live Streaming"}
	}`

	result, err := decodeProbe([]byte(report))
	require.NoError(t, err)

	video, ok := result.Video()
	require.True(t, ok)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1920, video.Width)

	audio, ok := result.Audio()
	require.True(t, ok)
	assert.Equal(t, 2, audio.Channels)
	assert.Equal(t, "hls", result.Format.FormatName)

	_, err = decodeProbe([]byte("not json"))
	assert.Error(t, err)
}
