package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with
// -ldflags "-X github.com/webcorder/webcorder/internal/cmd.Version=1.2.0"
var Version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the WebCorder version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("webcorder %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
