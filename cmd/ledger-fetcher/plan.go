package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/ledger-fetcher/internal/report"
	"github.com/withObsrvr/ledger-fetcher/internal/sqltemplate"
)

func newPlanCmd(root *rootFlags) *cobra.Command {
	var (
		rf      requestFlags
		showSQL bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the chunk plan and rewritten queries without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			req, err := rf.request(cfg)
			if err != nil {
				return err
			}

			plan, err := report.New(report.Deps{}, report.Options{StrictLedgerIDs: rf.strictIDs}).Resolve(req)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, showSQL)
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print every rewritten query")
	return cmd
}

func printPlan(w io.Writer, plan *report.Plan, showSQL bool) {
	fmt.Fprintf(w, "window:  %s -> %s\n", plan.Range.From.Format(time.DateTime), plan.Range.To.Format(time.DateTime))
	fmt.Fprintf(w, "ledgers: %d %v\n", len(plan.LedgerIDs), plan.LedgerIDs)
	fmt.Fprintf(w, "chunks:  %d\n", len(plan.Chunks))
	for i, c := range plan.Chunks {
		fmt.Fprintf(w, "  %2d  %s\n", i+1, c)
	}
	if !showSQL {
		return
	}

	rw := sqltemplate.NewRewriter(plan.Template, slog.With("component", "plan"))
	for _, id := range plan.LedgerIDs {
		for i, c := range plan.Chunks {
			fmt.Fprintf(w, "\n-- ledger %s chunk %d\n%s\n", id, i+1, rw.Rewrite(id, c).SQL)
		}
	}
}
