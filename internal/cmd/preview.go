package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/ffmpeg"
)

var (
	previewRaw         bool
	previewVolume      int
	previewWidth       int
	previewHeight      int
	previewHighLatency bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <url>",
	Short: "Watch a stream with ffplay",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().BoolVar(&previewRaw, "raw", false, "treat the argument as a direct stream URL")
	previewCmd.Flags().IntVar(&previewVolume, "volume", -1, "playback volume 0-100 (default: ffplay's)")
	previewCmd.Flags().IntVar(&previewWidth, "width", 0, "window width")
	previewCmd.Flags().IntVar(&previewHeight, "height", 0, "window height")
	previewCmd.Flags().BoolVar(&previewHighLatency, "high-latency", false, "buffer more instead of tracking the live edge")
}

func runPreview(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := a.runner.EnsurePreviewAvailable(ctx); err != nil {
		return err
	}

	streamURL, headers, err := streamFor(ctx, a, args[0], previewRaw)
	if err != nil {
		return err
	}

	req := ffmpeg.PreviewRequest{
		URL:         streamURL,
		Headers:     headers,
		UserAgent:   a.cfg.Resolver.UserAgent,
		Width:       previewWidth,
		Height:      previewHeight,
		HighLatency: previewHighLatency,
	}
	if previewVolume >= 0 {
		req.Volume = &previewVolume
	}

	proc, err := a.runner.Preview(req)
	if err != nil {
		return err
	}
	Debug("ffplay started with pid %d", proc.PID())

	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
		return nil
	}

	if code, _ := proc.Exited(); code != 0 {
		return fmt.Errorf("ffplay exited with code %d", code)
	}
	return nil
}
