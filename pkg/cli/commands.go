package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/spf13/cobra"
)

// withApp opens the library for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, cc *commandContext, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cc.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newSyncCommand(cc *commandContext) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one indexing pass against the storefront",
		Long: "Run one indexing pass. Without --update only new assets are added; " +
			"with --update up to 500 existing assets are re-enriched and overwritten, oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cc, func(ctx context.Context, a *app) error {
				summary, err := a.service.TriggerSync(ctx, update)
				if err != nil {
					return err
				}
				printPassSummary(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "Re-enrich and overwrite existing metadata")
	return cmd
}

func newDownloadCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download every asset that is missing on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cc, func(ctx context.Context, a *app) error {
				res, err := a.service.DownloadAll(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Queued", "Downloaded", "Skipped", "Failed"},
					[][]string{{
						fmt.Sprint(res.Queued),
						countCell(res.Downloaded, false),
						fmt.Sprint(res.Skipped),
						countCell(res.Failed, true),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
				))
				if res.Failed > 0 {
					fmt.Fprintf(out, "%s failed assets keep their error; run `humblevault status` for totals\n", color.YellowString("hint:"))
				}
				return nil
			})
		},
	}
}

func newReconcileCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Correct downloaded flags from the files on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cc, func(ctx context.Context, a *app) error {
				res, err := a.service.Reconcile(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Checked", "Now downloaded", "Now missing", "Write failures"},
					[][]string{{
						fmt.Sprint(res.Checked),
						countCell(res.MarkedTrue, false),
						countCell(res.MarkedFalse, true),
						countCell(res.WriteFailed, true),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newHighlightsCommand(cc *commandContext) *cobra.Command {
	var limit, maxCategories int
	cmd := &cobra.Command{
		Use:   "highlights",
		Short: "Show the largest downloaded categories and their newest items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cc, func(ctx context.Context, a *app) error {
				highlights, err := a.service.GetHighlights(ctx, limit, maxCategories)
				if err != nil {
					return err
				}
				printHighlights(cmd.OutOrStdout(), highlights)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 12, "Items per category")
	cmd.Flags().IntVar(&maxCategories, "max-categories", 6, "Number of categories")
	return cmd
}

func newStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library totals and configuration state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cc, func(ctx context.Context, a *app) error {
				status, err := a.service.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func printPassSummary(w io.Writer, s *models.PassSummary) {
	fmt.Fprintf(w, "%s pass %s took %s\n", s.Mode, s.Id, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintln(w, renderTable(
		[]string{"Orders", "Failed orders", "Processed", "Created", "Updated", "Overwritten", "Reconciled"},
		[][]string{{
			fmt.Sprint(s.Orders),
			countCell(s.FailedOrders, true),
			fmt.Sprint(s.Processed),
			countCell(s.Created, false),
			countCell(s.Updated, false),
			countCell(s.Overwritten, false),
			fmt.Sprint(s.Reconciled),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	if len(s.Categories) > 0 {
		names := make([]string, 0, len(s.Categories))
		for name := range s.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, fmt.Sprint(s.Categories[name])})
		}
		fmt.Fprintln(w, renderTable([]string{"Category", "Assets"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	for _, e := range s.Errors {
		fmt.Fprintf(w, "%s %s\n", color.RedString("error:"), e)
	}
}

func printHighlights(w io.Writer, highlights []models.Highlight) {
	if len(highlights) == 0 {
		fmt.Fprintln(w, "No downloaded assets yet.")
		return
	}
	for _, h := range highlights {
		fmt.Fprintf(w, "%s (%s)\n", color.CyanString(h.Category), humanize.Comma(int64(h.Count)))
		rows := make([][]string, 0, len(h.Items))
		for _, item := range h.Items {
			rows = append(rows, []string{item.ProductTitle, item.BundleTitle, item.FileName, humanize.IBytes(uint64(max(item.SizeBytes, 0)))})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"Product", "Bundle", "File", "Size"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
	}
}

func printStatus(w io.Writer, s *models.Status) {
	st := s.Stats
	rows := [][]string{
		{"Configured", yesNo(s.Configured)},
		{"Assets", humanize.Comma(int64(st.Assets))},
		{"Downloaded", fmt.Sprintf("%s (%s of %s)", humanize.Comma(int64(st.Downloaded)),
			humanize.IBytes(uint64(max(st.DownloadedSize, 0))), humanize.IBytes(uint64(max(st.TotalBytes, 0))))},
		{"Failed downloads", countCell(st.Failed, true)},
		{"Key-only entitlements", humanize.Comma(int64(st.KeyOnly))},
		{"Bundles", humanize.Comma(int64(st.Bundles))},
	}
	if s.LastPass != nil {
		rows = append(rows, []string{"Last pass", fmt.Sprintf("%s, %s", s.LastPass.Mode, humanize.Time(s.LastPass.FinishedAt))})
	}
	fmt.Fprintln(w, renderTable([]string{"", ""}, rows, []columnAlignment{alignLeft, alignLeft}))
}
