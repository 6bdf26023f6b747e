package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Print the direct stream URL of a page",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	streamURL, err := a.resolver.Resolve(ctx, pageURL)
	if err != nil {
		if errors.Is(err, resolver.ErrNoStream) {
			return fmt.Errorf("no stream found for %s", pageURL)
		}
		return fmt.Errorf("failed to resolve %s: %w", pageURL, err)
	}

	fmt.Println(streamURL)
	return nil
}
