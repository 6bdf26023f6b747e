package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/updater"
)

var (
	updateForce   bool
	updateInstall bool
	updateSkip    bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer WebCorder release",
	Long: `Check GitHub for a newer release.

Checks run at most once per update.check_interval unless --force is given.
A GitHub token is read from GITHUB_TOKEN, ~/.webcorder/github_config.json or
the build, in that order.

Examples:
  webcorder update
  webcorder update --install
  webcorder update --skip`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVarP(&updateForce, "force", "f", false, "check now and include skipped versions")
	updateCmd.Flags().BoolVar(&updateInstall, "install", false, "download and launch the installer")
	updateCmd.Flags().BoolVar(&updateSkip, "skip", false, "never offer the latest version again")
	updateCmd.MarkFlagsMutuallyExclusive("install", "skip")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	mgr, source, err := a.updateManager()
	if err != nil {
		return err
	}
	Debug("GitHub token source: %s", source)

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if !updateForce && !mgr.Due() {
		fmt.Println("Checked for updates recently. Use --force to check again.")
		return nil
	}

	upd, err := mgr.Check(ctx, updateForce)
	if err != nil {
		if errors.Is(err, updater.ErrNoRelease) {
			fmt.Println("No releases published yet.")
			return nil
		}
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if upd == nil {
		fmt.Printf("WebCorder %s is up to date.\n", mgr.Current())
		return nil
	}

	fmt.Printf("WebCorder %s is available (you have %s).\n", upd.Version, mgr.Current())
	if upd.Release.HTMLURL != "" {
		fmt.Printf("Release notes: %s\n", upd.Release.HTMLURL)
	}

	switch {
	case updateSkip:
		if err := mgr.Skip(upd.Version); err != nil {
			return err
		}
		fmt.Printf("Version %s will not be offered again.\n", upd.Version)

	case updateInstall:
		if !upd.HasAsset {
			return fmt.Errorf("release %s has no installer, download it from the release page", upd.Version)
		}
		lastPct := -1
		path, err := mgr.Download(ctx, upd, func(written, total int64) {
			if total <= 0 {
				return
			}
			if pct := int(written * 100 / total); pct/10 != lastPct/10 {
				lastPct = pct
				fmt.Printf("\rDownloading %s... %3d%%", upd.Asset.Name, pct)
			}
		})
		fmt.Println()
		if err != nil {
			return err
		}
		if err := updater.Install(path, true); err != nil {
			if errors.Is(err, updater.ErrUnsupportedInstaller) {
				fmt.Printf("Downloaded %s; install it manually.\n", path)
				return nil
			}
			return err
		}
		fmt.Println("Installer started. WebCorder will exit now.")

	default:
		fmt.Println("Run 'webcorder update --install' to install it.")
	}
	return nil
}
