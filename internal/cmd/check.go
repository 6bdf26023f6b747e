package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/resolver"
)

var checkAll bool

var checkCmd = &cobra.Command{
	Use:   "check [url]...",
	Short: "Check which pages are live",
	Long: `Resolve pages and report which ones are streaming.

Examples:
  webcorder check https://example.com/alice
  webcorder check --all`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVarP(&checkAll, "all", "a", false, "check every tracked page")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !checkAll {
		return fmt.Errorf("give at least one url or --all")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	var ids []string
	if checkAll {
		ids = a.registry.IDs()
	}
	for _, arg := range args {
		pageURL, err := parsePageURL(arg)
		if err != nil {
			return err
		}
		ids = append(ids, a.sessionFor(pageURL).ID)
	}
	if len(ids) == 0 {
		fmt.Println("No tracked pages.")
		return nil
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	res, err := a.sup.CheckAll(ctx, ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tSTATUS\tSTREAM")
	for _, id := range ids {
		sess, ok := a.registry.Get(id)
		if !ok {
			continue
		}
		name := resolver.ModelName(sess.SourceURL)
		if name == "" {
			name = sess.SourceURL
		}
		stream := sess.ResolvedURL
		if stream == "" {
			stream = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, sess.Status, stream)
	}
	_ = w.Flush()

	fmt.Printf("\n%d of %d live.\n", res.Live, res.Total)
	if err != nil {
		return fmt.Errorf("check interrupted: %w", err)
	}
	return nil
}
