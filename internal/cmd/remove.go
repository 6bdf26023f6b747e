package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeAll bool

var removeCmd = &cobra.Command{
	Use:     "remove [url]...",
	Aliases: []string{"rm"},
	Short:   "Stop tracking stream pages",
	Long: `Remove stream page URLs from the tracked list.

Use --all to forget every tracked page. Recordings already on disk are kept.`,
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "remove every tracked page")
}

func runRemove(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !removeAll {
		return fmt.Errorf("give at least one url or --all")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	targets := args
	if removeAll {
		targets = a.doc.URLs()
	}

	removedCount := 0
	for _, arg := range targets {
		pageURL, err := parsePageURL(arg)
		if err != nil {
			return err
		}
		if _, ok := a.doc.Models[pageURL]; !ok {
			fmt.Printf("Warning: %s is not tracked\n", pageURL)
			continue
		}
		if err := a.store.RemoveModel(pageURL); err != nil {
			fmt.Printf("Warning: failed to remove %s: %v\n", pageURL, err)
			continue
		}
		fmt.Printf("Removed: %s\n", pageURL)
		removedCount++
	}

	if removedCount == 0 {
		fmt.Println("Nothing to remove.")
	} else {
		fmt.Printf("Removed %d page(s).\n", removedCount)
	}
	return nil
}
