package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var autorecordCmd = &cobra.Command{
	Use:   "autorecord <on|off|toggle> [url]...",
	Short: "Configure auto-recording",
	Long: `Switch auto-recording on or off.

Without a url the global switch used by 'webcorder run' is changed. With urls
the per-page flag is changed instead; pages must be tracked.

Examples:
  webcorder autorecord on
  webcorder autorecord toggle https://example.com/alice`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE:      runAutorecord,
}

func init() {
	rootCmd.AddCommand(autorecordCmd)
}

func runAutorecord(cmd *cobra.Command, args []string) error {
	action := args[0]
	switch action {
	case "on", "off", "toggle":
	default:
		return fmt.Errorf("unknown action %q: expected on, off or toggle", action)
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		enabled := action == "on"
		if action == "toggle" {
			enabled = !a.poller.Enabled()
		}
		if err := a.poller.SetEnabled(enabled); err != nil {
			return err
		}
		if enabled {
			fmt.Printf("Auto-record enabled (%d page(s) monitored).\n", a.poller.Count())
		} else {
			fmt.Println("Auto-record disabled.")
		}
		return nil
	}

	for _, arg := range args[1:] {
		pageURL, err := parsePageURL(arg)
		if err != nil {
			return err
		}
		sess, err := a.trackedSession(pageURL)
		if err != nil {
			return err
		}

		on := action == "on"
		switch action {
		case "on":
			err = a.poller.Add(sess.ID)
		case "off":
			err = a.poller.Remove(sess.ID)
		case "toggle":
			on, err = a.poller.Toggle(sess.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", pageURL, err)
		}
		fmt.Printf("%s: auto-record %s\n", pageURL, onOff(on))
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
