// Package report runs a ledger report job end to end: resolve the request,
// look up ledger metadata, fetch every ledger, export, record the run in the
// catalog and announce it.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
	"github.com/withObsrvr/ledger-fetcher/internal/export"
	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
	"github.com/withObsrvr/ledger-fetcher/internal/logging"
	"github.com/withObsrvr/ledger-fetcher/internal/metadata"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
	"github.com/withObsrvr/ledger-fetcher/internal/notify"
	"github.com/withObsrvr/ledger-fetcher/internal/secrets"
	"github.com/withObsrvr/ledger-fetcher/internal/sqltemplate"
)

// Deps are the collaborators of a Pipeline. Exporter, Catalog and Notifier
// are optional; a nil one skips its step. A nil Ledgers skips the metadata
// lookup.
type Deps struct {
	Connector fetch.Connector
	Ledgers   ledgers.Opener
	Secrets   *secrets.App
	Exporter  *export.Exporter
	Catalog   metadata.Writer
	Notifier  notify.Emitter
}

// Options tune a Pipeline.
type Options struct {
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
	QueryTimeout  time.Duration

	// StrictLedgerIDs rejects non-numeric ids in @StrLedgers instead of
	// dropping them.
	StrictLedgerIDs bool
	// AllowOverwrite republishes a run id that already has a manifest.
	AllowOverwrite bool

	CatalogStrict bool
	NotifyStrict  bool

	// SummaryPath, when set, receives a JSON summary of each run.
	SummaryPath string
}

// Pipeline executes report Requests.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a Pipeline. A nil Connector uses SQL Server.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Connector == nil {
		deps.Connector = fetch.MSSQLConnector{}
	}
	if opts.Workers < 1 {
		opts.Workers = fetch.DefaultWorkers
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = fetch.DefaultRetryAttempts
	}
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  logging.Component("report"),
	}
}

// Prepare resolves req into a Plan without touching the ledger database:
// connection string, date window, ledger ids and the chunk plan. A
// malformed connection string fails here with a *connstr.ConfigurationError.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (*Plan, error) {
	plan, err := p.Resolve(req)
	if err != nil {
		return nil, err
	}
	plan.ConnString, err = p.connString(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := connstr.Parse(plan.ConnString); err != nil {
		return nil, err
	}
	return plan, nil
}

// Resolve is Prepare without the connection string. Used for dry runs.
func (p *Pipeline) Resolve(req Request) (*Plan, error) {
	if strings.TrimSpace(req.Template) == "" {
		return nil, ErrEmptyTemplate
	}

	plan := &Plan{
		RunID:    req.RunID,
		Caller:   req.Caller,
		Template: req.Template,
	}
	if plan.RunID == "" {
		plan.RunID = uuid.NewString()
	}

	var err error
	plan.Range, err = resolveRange(req)
	if err != nil {
		return nil, err
	}
	plan.Chunks = chunk.Plan(plan.Range)
	if err := chunk.Validate(plan.Range, plan.Chunks); err != nil {
		return nil, fmt.Errorf("chunk plan: %w", err)
	}

	plan.LedgerIDs = trimIDs(req.LedgerIDs)
	if len(plan.LedgerIDs) == 0 {
		plan.LedgerIDs, err = sqltemplate.ExtractLedgers(req.Template, p.opts.StrictLedgerIDs)
		if err != nil {
			return nil, err
		}
	}
	if len(plan.LedgerIDs) == 0 {
		return nil, fmt.Errorf("%w: none specified in @StrLedgers", fetch.ErrNoLedgers)
	}
	return plan, nil
}

func trimIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func resolveRange(req Request) (chunk.DateRange, error) {
	if !req.From.IsZero() && !req.To.IsZero() {
		return chunk.NewDateRange(req.From, req.To)
	}
	from, to, err := sqltemplate.ExtractDates(req.Template)
	if err != nil {
		return chunk.DateRange{}, err
	}
	if !req.From.IsZero() {
		from = req.From
	}
	if !req.To.IsZero() {
		to = req.To
	}
	return chunk.NewDateRange(from, to)
}

func (p *Pipeline) connString(ctx context.Context, req Request) (string, error) {
	switch {
	case req.ConnString != "":
		return req.ConnString, nil
	case req.Caller != "" && p.deps.Secrets != nil:
		return p.deps.Secrets.ConnString(ctx, req.Caller)
	default:
		return "", ErrNoConnString
	}
}

// Run executes req. The order of steps must not change:
//  1. Resolve the request and parse the connection string (Prepare)
//  2. Skip run ids that are already published
//  3. Look up ledger metadata
//  4. Fetch every ledger
//  5. Validate the run
//  6. Export files and manifest (temp -> finalize)
//  7. Record the run in the catalog
//  8. Emit the report-ready event (must be last, references published data)
//
// A Result is returned alongside errors from step 5 onwards so callers still
// get the fetched rows.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	plan, err := p.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithCorrelationID(ctx, plan.RunID)
	log := p.log.With("run_id", plan.RunID, "ledgers", len(plan.LedgerIDs), "chunks", len(plan.Chunks))
	log.Info("starting report run",
		"from", plan.Range.From.Format(time.DateTime),
		"to", plan.Range.To.Format(time.DateTime),
	)
	start := time.Now()

	if !p.opts.AllowOverwrite {
		if err := p.checkExisting(ctx, plan.RunID); err != nil {
			log.Info("skipping run", "reason", err)
			return nil, err
		}
	}

	info, err := p.lookup(ctx, plan)
	if err != nil {
		return nil, err
	}

	run := fetch.NewOrchestrator(p.deps.Connector).Run(ctx, fetch.Request{
		RunID:         plan.RunID,
		ConnString:    plan.ConnString,
		Template:      plan.Template,
		LedgerIDs:     plan.LedgerIDs,
		Range:         plan.Range,
		Workers:       p.opts.Workers,
		RetryAttempts: p.opts.RetryAttempts,
		RetryBackoff:  p.opts.RetryBackoff,
		QueryTimeout:  p.opts.QueryTimeout,
	})
	res := &Result{Plan: plan, Run: run, Info: info}

	vr := ValidateRun(plan, run, info)
	for _, w := range vr.Warnings {
		log.Warn("run validation warning", "warning", w)
	}
	if !vr.Passed {
		return res, fmt.Errorf("run validation failed: %s", strings.Join(vr.Errors, "; "))
	}

	if p.deps.Exporter != nil {
		m, err := p.deps.Exporter.Export(ctx, plan.RunID, run, info)
		if err != nil {
			return res, fmt.Errorf("export: %w", err)
		}
		res.Manifest = m
		res.ManifestURI = p.deps.Exporter.ManifestURI(plan.RunID)
	}

	runRec, outcomes := p.records(req, res)

	if p.deps.Catalog != nil {
		if err := recordCatalog(ctx, p.deps.Catalog, runRec, outcomes); err != nil {
			if m := metrics.Get(); m != nil {
				m.IncSinkErrors("catalog")
			}
			if p.opts.CatalogStrict {
				return res, fmt.Errorf("record catalog (strict mode): %w", err)
			}
			log.Warn("failed to record run in catalog", "error", err)
		}
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.EmitReportReady(ctx, buildEvent(req, res, outcomes)); err != nil {
			if p.opts.NotifyStrict {
				return res, fmt.Errorf("emit report event (strict mode): %w", err)
			}
			log.Warn("failed to emit report event", "error", err)
		}
	}

	if p.opts.SummaryPath != "" {
		summary := metadata.Summary{Run: runRec, Outcomes: outcomes}
		if err := summary.WriteJSON(p.opts.SummaryPath); err != nil {
			log.Warn("failed to write run summary", "path", p.opts.SummaryPath, "error", err)
		}
	}

	log.Info("completed report run",
		"with_rows", run.WithRows(),
		"failed", len(run.Failed()),
		"rows", run.TotalRows(),
		"manifest", res.ManifestURI,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

// checkExisting reports ErrRunExists when the run id is already in the
// catalog or has a published manifest. Check failures are logged and the
// run proceeds.
func (p *Pipeline) checkExisting(ctx context.Context, runID string) error {
	if rc, ok := p.deps.Catalog.(metadata.RunChecker); ok {
		exists, err := rc.RunExists(ctx, runID)
		if err != nil {
			p.log.Warn("catalog idempotency check failed", "run_id", runID, "error", err)
		} else if exists {
			return fmt.Errorf("%w: %s in catalog", ErrRunExists, runID)
		}
	}
	if p.deps.Exporter != nil {
		exists, err := p.deps.Exporter.Exists(ctx, runID)
		if err != nil {
			p.log.Warn("storage idempotency check failed", "run_id", runID, "error", err)
		} else if exists {
			return fmt.Errorf("%w: %s in storage", ErrRunExists, runID)
		}
	}
	return nil
}

func (p *Pipeline) lookup(ctx context.Context, plan *Plan) (map[string]ledgers.Info, error) {
	if p.deps.Ledgers == nil {
		p.log.Debug("ledger metadata lookup disabled")
		return nil, nil
	}
	info, err := ledgers.Lookup(ctx, p.deps.Ledgers, plan.ConnString, plan.LedgerIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger metadata: %w", err)
	}
	return info, nil
}

func recordCatalog(ctx context.Context, w metadata.Writer, run metadata.RunRecord, outcomes []metadata.OutcomeRecord) error {
	if err := w.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	for _, rec := range outcomes {
		if err := w.RecordOutcome(ctx, rec); err != nil {
			return fmt.Errorf("record outcome %s: %w", rec.LedgerID, err)
		}
	}
	return nil
}
