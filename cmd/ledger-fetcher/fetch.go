package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/ledger-fetcher/internal/config"
	"github.com/withObsrvr/ledger-fetcher/internal/report"
	"github.com/withObsrvr/ledger-fetcher/internal/sqltemplate"
)

// requestFlags are shared by fetch and plan.
type requestFlags struct {
	template     string
	templateFile string
	connString   string
	callerCode   string
	ledgers      []string
	from         string
	to           string
	runID        string
	strictIDs    bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.template, "template", "", "query template text")
	cmd.Flags().StringVar(&f.templateFile, "template-file", "", "read the query template from a file")
	cmd.Flags().StringVar(&f.connString, "conn-string", "", "connection string (overrides fetch.conn_string and --caller-code)")
	cmd.Flags().StringVar(&f.callerCode, "caller-code", "", "resolve the database through secret db-map-<code>")
	cmd.Flags().StringSliceVar(&f.ledgers, "ledgers", nil, "ledger ids (overrides @StrLedgers)")
	cmd.Flags().StringVar(&f.from, "from", "", "start of window (overrides @FromDate)")
	cmd.Flags().StringVar(&f.to, "to", "", "end of window (overrides @ToDate)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().BoolVar(&f.strictIDs, "strict-ledgers", false, "reject non-numeric ids in @StrLedgers")
	cmd.MarkFlagsMutuallyExclusive("template", "template-file")
	cmd.MarkFlagsOneRequired("template", "template-file")
}

// request builds a report.Request from the flags. cfg supplies the fallback
// connection string.
func (f *requestFlags) request(cfg config.Config) (report.Request, error) {
	req := report.Request{
		RunID:      f.runID,
		Template:   f.template,
		ConnString: f.connString,
		Caller:     f.callerCode,
		LedgerIDs:  f.ledgers,
	}
	if f.templateFile != "" {
		data, err := os.ReadFile(f.templateFile)
		if err != nil {
			return report.Request{}, fmt.Errorf("read template: %w", err)
		}
		req.Template = string(data)
	}
	if req.ConnString == "" && req.Caller == "" {
		req.ConnString = cfg.Fetch.ConnString
	}

	var err error
	if req.From, err = parseFlagDate("from", f.from); err != nil {
		return report.Request{}, err
	}
	if req.To, err = parseFlagDate("to", f.to); err != nil {
		return report.Request{}, err
	}
	return req, nil
}

func parseFlagDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := sqltemplate.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func newFetchCmd(root *rootFlags) *cobra.Command {
	var (
		rf            requestFlags
		workers       int
		retryAttempts int
		summaryPath   string
		resultsPath   string
		overwrite     bool
		requestedBy   string
		currency      string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every ledger of a template and publish the results",
		Example: strings.TrimSpace(`
  ledger-fetcher fetch --template-file ledger.sql --caller-code acme
  ledger-fetcher fetch --template-file ledger.sql --conn-string "$SQL_CONN_STRING" --ledgers 101,205 --results out.json`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Fetch.Workers = workers
			}
			if cmd.Flags().Changed("retry-attempts") {
				cfg.Fetch.RetryAttempts = retryAttempts
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			startMetrics(cfg.Metrics)

			req, err := rf.request(cfg)
			if err != nil {
				return err
			}
			req.RequestedBy = requestedBy
			req.Currency = currency

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.pipeline(report.Options{
				Workers:         cfg.Fetch.Workers,
				RetryAttempts:   cfg.Fetch.RetryAttempts,
				RetryBackoff:    cfg.Fetch.RetryBackoff(),
				QueryTimeout:    cfg.Fetch.QueryTimeout(),
				StrictLedgerIDs: rf.strictIDs,
				AllowOverwrite:  overwrite,
				CatalogStrict:   cfg.Catalog.Strict,
				NotifyStrict:    cfg.Notify.Strict,
				SummaryPath:     summaryPath,
			})

			res, err := p.Run(ctx, req)
			if res != nil && resultsPath != "" {
				if werr := writeResults(resultsPath, res); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d/%d ledgers with rows, %d failed, %d rows\n",
				res.Plan.RunID, res.Run.WithRows(), len(res.Run.Requested), len(res.Run.Failed()), res.Run.TotalRows())
			if res.ManifestURI != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "manifest: %s\n", res.ManifestURI)
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent ledgers (overrides fetch.workers)")
	cmd.Flags().IntVar(&retryAttempts, "retry-attempts", 0, "total attempts per ledger (overrides fetch.retry_attempts)")
	cmd.Flags().StringVar(&summaryPath, "summary", "", "write a JSON run summary to this path")
	cmd.Flags().StringVar(&resultsPath, "results", "", "write the ledger id -> rows map as JSON to this path")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "republish a run id that already exists")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "recorded in the report event")
	cmd.Flags().StringVar(&currency, "currency", "", "recorded in the report event")
	return cmd
}

// writeResults dumps the collapsed result map, keyed by ledger id.
func writeResults(path string, res *report.Result) error {
	data, err := json.MarshalIndent(res.Results(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
