package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/resolver"
)

var addAutoRecord bool

var addCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Track stream pages",
	Long: `Add one or more stream page URLs to the tracked list.

Examples:
  webcorder add https://example.com/alice
  webcorder add https://example.com/alice https://example.com/bob --autorecord`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().BoolVarP(&addAutoRecord, "autorecord", "a", false, "record automatically when the stream goes live")
}

// parsePageURL accepts http(s) URLs and adds https:// when the scheme is missing
func parsePageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: expected an http or https page", raw)
	}
	return u.String(), nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	added := 0
	for _, arg := range args {
		pageURL, err := parsePageURL(arg)
		if err != nil {
			return err
		}
		if _, ok := a.doc.Models[pageURL]; ok {
			fmt.Printf("Already tracked: %s\n", pageURL)
			continue
		}
		if err := a.store.AddModel(pageURL, addAutoRecord); err != nil {
			return fmt.Errorf("failed to add %s: %w", pageURL, err)
		}
		added++

		name := resolver.ModelName(pageURL)
		if name == "" {
			name = pageURL
		}
		if addAutoRecord {
			fmt.Printf("Added %s (auto-record)\n", name)
		} else {
			fmt.Printf("Added %s\n", name)
		}
	}

	if addAutoRecord && added > 0 && !a.doc.Settings.AutoRecordEnabled {
		fmt.Println("Auto-record is globally off. Enable it with 'webcorder autorecord on'.")
	}
	return nil
}
