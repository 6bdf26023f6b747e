package cmd

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/session"
)

var (
	settingsOutput    string
	settingsContainer string
)

// containers lists the formats ffmpeg is asked to write
var containers = []string{"mp4", "mkv", "ts", "flv", "mov"}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change saved settings",
	Long: `Show the saved settings, or change them with flags.

Examples:
  webcorder settings
  webcorder settings --output ~/Videos/streams --container mkv`,
	RunE: runSettings,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.Flags().StringVarP(&settingsOutput, "output", "o", "", "default output folder")
	settingsCmd.Flags().StringVarP(&settingsContainer, "container", "c", "", "default container: "+strings.Join(containers, ", "))
}

func validContainer(c string) bool {
	for _, known := range containers {
		if c == known {
			return true
		}
	}
	return false
}

func runSettings(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	if settingsOutput != "" || settingsContainer != "" {
		container := strings.ToLower(strings.TrimPrefix(settingsContainer, "."))
		if container != "" && !validContainer(container) {
			return fmt.Errorf("unknown container %q: expected one of %s", settingsContainer, strings.Join(containers, ", "))
		}
		folder := ""
		if settingsOutput != "" {
			if folder, err = homedir.Expand(settingsOutput); err != nil {
				return fmt.Errorf("invalid output folder: %w", err)
			}
		}

		if err := a.store.UpdateSettings(func(s *session.Settings) {
			if folder != "" {
				s.OutputFolder = folder
			}
			if container != "" {
				s.Container = container
			}
		}); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Println("Settings saved.")
	}

	s := a.store.Load().Settings
	fmt.Printf("Output folder:   %s\n", s.OutputFolder)
	fmt.Printf("Container:       %s\n", s.Container)
	fmt.Printf("Auto-record:     %s\n", onOff(s.AutoRecordEnabled))
	if s.LastUpdateCheck != nil {
		fmt.Printf("Last update:     %s\n", s.LastUpdateCheck.Local().Format("2006-01-02 15:04:05"))
	}
	if len(s.SkippedVersions) > 0 {
		fmt.Printf("Skipped:         %s\n", strings.Join(s.SkippedVersions, ", "))
	}
	fmt.Printf("Data file:       %s\n", a.store.Path())
	return nil
}
