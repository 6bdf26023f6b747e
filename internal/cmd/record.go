package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/daemon"
)

var (
	recordOutput    string
	recordContainer string
	recordDuration  time.Duration
	recordVolume    float64
	recordNoMonitor bool
)

var recordCmd = &cobra.Command{
	Use:   "record <url>",
	Short: "Record a stream in the foreground",
	Long: `Resolve a page and record it until the stream ends or Ctrl+C is pressed.

The health monitor restarts the recording if the stream drops, unless
--no-monitor is given. Ctrl+C asks ffmpeg to finish the file cleanly.

Examples:
  webcorder record https://example.com/alice
  webcorder record https://example.com/alice --container mkv --duration 2h`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output folder (default: saved setting)")
	recordCmd.Flags().StringVarP(&recordContainer, "container", "c", "", "container format: mp4, mkv, ts, flv (default: saved setting)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (e.g., 30m)")
	recordCmd.Flags().Float64Var(&recordVolume, "volume", 1.0, "audio gain, 1.0 keeps the original")
	recordCmd.Flags().BoolVar(&recordNoMonitor, "no-monitor", false, "do not restart the recording when the stream drops")
}

func runRecord(cmd *cobra.Command, args []string) error {
	pageURL, err := parsePageURL(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := a.runner.EnsureAvailable(ctx); err != nil {
		return err
	}

	if recordOutput != "" || recordContainer != "" {
		folder := a.doc.Settings.OutputFolder
		if recordOutput != "" {
			if folder, err = homedir.Expand(recordOutput); err != nil {
				return fmt.Errorf("invalid output folder: %w", err)
			}
		}
		a.sup.SetOutput(folder, recordContainer)
	}
	var volume *float64
	if cmd.Flags().Changed("volume") {
		volume = &recordVolume
	}
	a.sup.SetCapture(recordDuration, volume)

	sess := a.sessionFor(pageURL)
	started, err := a.sup.Start(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Printf("Recording %s\n  -> %s\n", pageURL, started.OutputPath)

	d := daemon.New(a.sup, daemon.Options{ShutdownWait: a.cfg.Recording.ShutdownWait}, a.log)
	d.Add(a.sup)
	if !recordNoMonitor {
		d.Add(a.monitor)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(a.cfg.Recording.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				cur, ok := a.registry.Get(sess.ID)
				if !ok || (!cur.IsRecording() && !a.monitor.Restarting(sess.ID)) {
					stop()
					return
				}
			}
		}
	}()

	if err := d.Run(runCtx); err != nil {
		return err
	}

	final, _ := a.registry.Get(sess.ID)
	path := final.OutputPath
	if path == "" {
		path = started.OutputPath
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("recording produced no data (%s)", final.Status)
	}
	fmt.Printf("Saved %s (%d KB, %ds)\n", path, info.Size()/1024, final.ElapsedSeconds(time.Now()))
	return nil
}
