package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/harmony-crawler/internal/report"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

func newStatsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats [category...]",
		Short: "Print table sizes and the most common values per category",
		Long: `Prints row counts for every table, then the top values of each requested
category (composer, key, instrumentation, style, language). With no
arguments every category is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			categories := report.Categories
			if len(args) > 0 {
				categories = categories[:0:0]
				for _, arg := range args {
					c, err := report.ParseCategory(arg)
					if err != nil {
						return err
					}
					categories = append(categories, c)
				}
			}
			ctx := cmd.Context()
			counts, err := a.Store().TableCounts(ctx)
			if err != nil {
				return fmt.Errorf("count tables: %w", err)
			}
			rows, err := a.Store().ListCompositions(ctx)
			if err != nil {
				return fmt.Errorf("list compositions: %w", err)
			}
			return printStats(cmd.OutOrStdout(), counts, rows, categories, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "values shown per category (0 for all)")
	return cmd
}

func printStats(w io.Writer, counts []store.TableCount, rows []store.CompositionRow, categories []report.Category, limit int) error {
	heading := color.New(color.Bold, color.FgCyan)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	heading.Fprintln(tw, "Tables")
	for _, c := range counts {
		fmt.Fprintf(tw, "  %s\t%d\n", c.Table, c.Rows)
	}
	for _, category := range categories {
		fmt.Fprintln(tw)
		heading.Fprintf(tw, "Top %s\n", category)
		top := report.TopN(rows, category, limit)
		if len(top) == 0 {
			fmt.Fprintln(tw, "  (no values)")
			continue
		}
		for _, c := range top {
			fmt.Fprintf(tw, "  %s\t%d\n", c.Value, c.Count)
		}
	}
	return tw.Flush()
}
