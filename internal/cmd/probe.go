package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var probeRaw bool

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Show the codecs and resolution of a live stream",
	Long: `Resolve a page and inspect the stream with ffprobe.

Use --raw when the argument is already a direct media URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeRaw, "raw", false, "treat the argument as a direct stream URL")
}

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	streamURL, headers, err := streamFor(ctx, a, args[0], probeRaw)
	if err != nil {
		return err
	}

	result, err := a.runner.Probe(ctx, streamURL, a.cfg.Resolver.UserAgent, headers)
	if err != nil {
		return fmt.Errorf("failed to probe stream: %w", err)
	}

	fmt.Printf("Stream:    %s\n", streamURL)
	fmt.Printf("Format:    %s\n", result.Format.LongName)
	if v, ok := result.Video(); ok {
		fmt.Printf("Video:     %s %dx%d @ %s\n", v.CodecName, v.Width, v.Height, v.FrameRate)
	} else {
		fmt.Println("Video:     none")
	}
	if au, ok := result.Audio(); ok {
		fmt.Printf("Audio:     %s %s Hz, %d channel(s)\n", au.CodecName, au.SampleRate, au.Channels)
	} else {
		fmt.Println("Audio:     none")
	}
	if result.Format.BitRate != "" {
		fmt.Printf("Bitrate:   %s\n", result.Format.BitRate)
	}
	return nil
}

// streamFor resolves arg unless raw is set and returns the headers ffmpeg
// tools should send
func streamFor(ctx context.Context, a *app, arg string, raw bool) (string, map[string]string, error) {
	if raw {
		return arg, nil, nil
	}
	pageURL, err := parsePageURL(arg)
	if err != nil {
		return "", nil, err
	}
	streamURL, err := a.resolver.Resolve(ctx, pageURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve %s: %w", pageURL, err)
	}
	return streamURL, map[string]string{"Referer": pageURL}, nil
}
