package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/reportstream/pkg/journal"
	"github.com/spf13/cobra"
)

// NewRunsCmd creates the runs command.
func NewRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List journaled runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return fmt.Errorf("journal_path is not configured")
			}
			jr, err := journal.Open(cfg.JournalPath, journal.Options{CreateIfNotExists: false, EnableWAL: true})
			if err != nil {
				return err
			}
			defer jr.Close()

			if len(args) == 1 {
				return showRun(cmd, jr, args[0])
			}
			runs, err := jr.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printRuns(w io.Writer, runs []journal.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tREPORTS\tFACILITIES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status,
			strings.Join(r.Reports, ","), strings.Join(r.Facilities, ","))
	}
	_ = tw.Flush()
}

func showRun(cmd *cobra.Command, jr *journal.Journal, id string) error {
	run, err := jr.Run(cmd.Context(), id)
	if err != nil {
		return err
	}
	pairs, err := jr.Pairs(cmd.Context(), id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Range:    %s..%s (%s)\n", run.RangeStart.Format(time.DateOnly), run.RangeEnd.Format(time.DateOnly), run.Timezone)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPORT\tFACILITY\tSTATUS\tPAGES\tROWS\tERROR")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n", p.Report, p.Facility, p.Status, p.Pages, p.LastPage, p.Rows, p.Error)
	}
	return tw.Flush()
}
