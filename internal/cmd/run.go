package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/daemon"
)

var (
	runNoUpdateCheck bool
	runMetricsAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-record daemon",
	Long: `Run WebCorder in the foreground: tracked pages with auto-record are polled
and recorded when they go live, and dropped streams are restarted.

Ctrl+C stops every recording cleanly before exiting.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runNoUpdateCheck, "no-update-check", false, "skip the startup update check")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if err := a.runner.EnsureAvailable(ctx); err != nil {
		return err
	}

	if !a.poller.Enabled() {
		fmt.Println("Auto-record is off; only the health monitor runs. Enable it with 'webcorder autorecord on'.")
	}

	metricsAddr := a.cfg.Metrics.Addr
	if runMetricsAddr != "" {
		metricsAddr = runMetricsAddr
	}

	d := daemon.New(a.sup, daemon.Options{
		ShutdownWait: a.cfg.Recording.ShutdownWait,
		MetricsAddr:  metricsAddr,
	}, a.log)
	d.Add(a.sup)
	d.Add(a.monitor)
	d.Add(a.poller)

	if !runNoUpdateCheck {
		go a.backgroundUpdateCheck(ctx)
	}

	a.log.Info().
		Int("tracked", len(a.registry.IDs())).
		Int("monitored", a.poller.Count()).
		Bool("autorecord", a.poller.Enabled()).
		Str("metrics", metricsAddr).
		Msg("starting")

	return d.Run(ctx)
}

// backgroundUpdateCheck logs when a newer release exists. It honours the
// check interval and skipped versions.
func (a *app) backgroundUpdateCheck(ctx context.Context) {
	mgr, _, err := a.updateManager()
	if err != nil {
		a.log.Debug().Err(err).Msg("update check unavailable")
		return
	}
	upd, err := mgr.Check(ctx, false)
	if err != nil {
		a.log.Debug().Err(err).Msg("update check failed")
		return
	}
	if upd != nil {
		a.log.Info().Str("version", upd.Version).Str("current", mgr.Current()).
			Msg("a new version is available, run 'webcorder update --install'")
	}
}
