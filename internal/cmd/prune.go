package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/recorder"
)

var (
	pruneRecordings bool
	pruneDryRun     bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Clean up downloads and empty recordings",
	Long: `Clean up files WebCorder leaves behind to free up disk space.

This command removes:
  - Downloaded update installers
  - Empty (0 byte) recordings in the output folder (with --recordings)`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVar(&pruneRecordings, "recordings", false, "also remove empty recordings from the output folder")
	pruneCmd.Flags().BoolVarP(&pruneDryRun, "dry-run", "n", false, "only print what would be removed")
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	fmt.Println("Cleaning up update downloads...")
	if !pruneDryRun {
		mgr, _, err := a.updateManager()
		if err != nil {
			return err
		}
		if err := mgr.Clean(); err != nil {
			return err
		}
	}

	if !pruneRecordings {
		return nil
	}

	folder := a.doc.Settings.OutputFolder
	fmt.Printf("\nLooking for empty recordings in %s...\n", folder)
	empty, err := recorder.EmptyRecordings(folder)
	if err != nil {
		return fmt.Errorf("failed to scan output folder: %w", err)
	}

	removedCount := 0
	for _, path := range empty {
		rel, _ := filepath.Rel(folder, path)
		if pruneDryRun {
			fmt.Printf("Would remove: %s\n", rel)
			continue
		}
		if err := os.Remove(path); err != nil {
			fmt.Printf("Warning: failed to remove %s: %v\n", rel, err)
			continue
		}
		fmt.Printf("Removed: %s\n", rel)
		removedCount++
	}

	if len(empty) == 0 {
		fmt.Println("No empty recordings.")
	} else if !pruneDryRun {
		fmt.Printf("Removed %d empty recording(s).\n", removedCount)
	}
	return nil
}
