package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

// Debug prints a message if debug mode is enabled
func Debug(format string, args ...interface{}) {
	if debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

var rootCmd = &cobra.Command{
	Use:   "webcorder",
	Short: "WebCorder - record live video streams",
	Long: `WebCorder resolves stream pages to direct media URLs and records them with ffmpeg.

Track a page and record it whenever it goes live:
  webcorder add https://example.com/alice --autorecord
  webcorder autorecord on
  webcorder run

Record once in the foreground:
  webcorder record https://example.com/alice

Inspect a page:
  webcorder resolve https://example.com/alice
  webcorder probe https://example.com/alice`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.webcorder/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// initConfig loads a .env file from the working directory. Variables that are
// already set win. Config itself is loaded on-demand in subcommands.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		Debug("failed to load .env: %v", err)
	}
}
