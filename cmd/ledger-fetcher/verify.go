package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/ledger-fetcher/internal/metadata"
)

func newVerifyCmd(root *rootFlags) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check the checksums of an exported run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if !cfg.Export.Enabled() {
				return errors.New("export.bucket_url is not configured")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.exporter.LoadManifest(ctx, runID)
			if err != nil {
				return err
			}
			if err := a.exporter.Verify(ctx, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d files verified, %d rows\n", m.RunID, len(m.Ledgers), m.TotalRows)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to verify")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

func newFailuresCmd(root *rootFlags) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List ledgers that failed in recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cfg.Catalog.PostgresDSN == "" {
				return errors.New("catalog.postgres_dsn is not configured")
			}

			ctx := cmd.Context()
			w, err := metadata.NewPostgresWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
			if err != nil {
				return err
			}
			defer w.Close()

			ids, err := w.RecentFailures(ctx, runs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of most recent runs to inspect")
	return cmd
}
