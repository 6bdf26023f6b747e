package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/webcorder/webcorder/internal/resolver"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list", "ps"},
	Short:   "List tracked stream pages",
	Long:    `List all tracked stream pages with their auto-record flag. Use 'webcorder check' to see which are live.`,
	RunE:    runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	urls := a.doc.URLs()
	if len(urls) == 0 {
		fmt.Println("No tracked pages.")
		return nil
	}

	// Create tabwriter for aligned output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tAUTORECORD\tADDED\tURL")
	_, _ = fmt.Fprintln(w, "-----\t----------\t-----\t---")

	for _, u := range urls {
		m := a.doc.Models[u]
		added := "-"
		if m.CreatedAt != nil {
			added = m.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		name := resolver.ModelName(u)
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, yesNo(m.AutoRecord), added, u)
	}

	_ = w.Flush()

	state := "off"
	if a.doc.Settings.AutoRecordEnabled {
		state = "on"
	}
	fmt.Printf("\nAuto-record is %s.\n", state)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
