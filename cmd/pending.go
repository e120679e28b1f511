package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-ledger/internal/frontier"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

func newPendingCmd() *cobra.Command {
	var (
		crawlName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List frontier targets that still need a fetch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if crawlName == "" {
				crawlName = appInstance.GetConfig().Crawl.Name
			}
			entries, err := appInstance.Pending(cmd.Context(), crawlName, limit)
			if err != nil {
				return err
			}
			printPending(cmd.OutOrStdout(), crawlName, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&crawlName, "crawl", "", "crawl name (default crawl.name)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to list; 0 lists all")
	return cmd
}

func printPending(w io.Writer, crawlName string, entries []store.FrontierEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s: %s\n", crawlName, color.New(color.FgGreen).Sprint("nothing pending"))
		return
	}
	fmt.Fprintf(w, "%s: %d pending\n", crawlName, len(entries))
	for _, e := range entries {
		tag := e.ResumeTag
		if tag == "" {
			tag = frontier.DefaultTag
		}
		fmt.Fprintf(w, "  %s %s\n", color.New(color.FgCyan).Sprintf("%-16s", tag), e.Target)
	}
}
