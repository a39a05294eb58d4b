package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
	"github.com/withObsrvr/ledger-fetcher/internal/logging"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
	"github.com/withObsrvr/ledger-fetcher/internal/sqltemplate"
)

// DefaultRetryAttempts is the number of attempts per ledger when unset.
const DefaultRetryAttempts = 2

// WorkerConfig configures a Worker. It is shared read-only by every Worker
// of one run.
type WorkerConfig struct {
	// ConnString is the raw connection string, re-parsed on every attempt.
	ConnString string
	Template   string
	Range      chunk.DateRange

	// RetryAttempts is the total number of attempts per ledger (minimum 1).
	RetryAttempts int
	// RetryBackoff is the initial delay between attempts; zero retries immediately.
	RetryBackoff time.Duration
	// QueryTimeout bounds a single chunk query; zero means no limit.
	QueryTimeout time.Duration
}

// Worker fetches one ledger's full chunk plan over one connection per attempt.
type Worker struct {
	connector Connector
	cfg       WorkerConfig
	rewriter  *sqltemplate.Rewriter
}

// NewWorker creates a Worker.
func NewWorker(connector Connector, cfg WorkerConfig) *Worker {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Worker{
		connector: connector,
		cfg:       cfg,
		rewriter:  sqltemplate.NewRewriter(cfg.Template, slog.With("component", "sqltemplate")),
	}
}

// Fetch runs the ledger's chunks in ascending order. Any failure while
// connecting or executing discards the partial rows, closes the connection
// and restarts the whole ledger on a fresh connection. Once attempts are
// exhausted the returned Outcome carries the last error and no rows; Fetch
// itself never fails.
func (w *Worker) Fetch(ctx context.Context, ledgerID string) Outcome {
	log := logging.LedgerLogger(ctx, ledgerID)
	start := time.Now()
	chunks := chunk.Plan(w.cfg.Range)

	out := Outcome{LedgerID: ledgerID, Chunks: len(chunks)}
	log.Info("processing ledger", "chunks", len(chunks))

	op := func() error {
		out.Attempts++
		if m := metrics.Get(); m != nil {
			m.IncFetchAttempts()
		}
		rows, err := w.attempt(ctx, log, ledgerID, chunks)
		if err != nil {
			log.Error("ledger fetch attempt failed", "attempt", out.Attempts, "error", err)
			return err
		}
		out.Records = rows
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retrying ledger", "next_attempt", out.Attempts+1, "backoff", wait)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts("ledger_fetch")
		}
	}

	policy := backoff.WithMaxRetries(w.newBackOff(), uint64(w.cfg.RetryAttempts-1))
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		out.Records = nil
		out.Err = fmt.Errorf("ledger %s failed after %d attempts: %w", ledgerID, out.Attempts, err)
	}
	out.Duration = time.Since(start)

	status := metrics.StatusOK
	switch {
	case out.Failed():
		status = metrics.StatusFailed
		log.Error("ledger fetch exhausted retries, returning empty result", "attempts", out.Attempts, "error", out.Err)
	case len(out.Records) == 0:
		status = metrics.StatusEmpty
		log.Info("ledger fetch complete", "rows", 0, "attempts", out.Attempts, "duration_ms", out.Duration.Milliseconds())
	default:
		log.Info("ledger fetch complete", "rows", len(out.Records), "attempts", out.Attempts, "duration_ms", out.Duration.Milliseconds())
	}
	if m := metrics.Get(); m != nil {
		m.ObserveLedger(status, out.Duration.Seconds())
	}
	return out
}

func (w *Worker) newBackOff() backoff.BackOff {
	if w.cfg.RetryBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// attempt is one Connecting → Executing* pass over all chunks.
func (w *Worker) attempt(ctx context.Context, log *slog.Logger, ledgerID string, chunks []chunk.Chunk) (rows FetchResult, err error) {
	cfg, err := connstr.Parse(w.cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	sess, err := w.connector.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("close connection", "error", cerr)
		}
	}()

	rows = FetchResult{}
	for i, c := range chunks {
		q := w.rewriter.Rewrite(ledgerID, c)
		if m := metrics.Get(); m != nil {
			for _, p := range q.Skipped() {
				m.IncTemplateSkip(p)
			}
		}
		log.Debug("executing chunk", "chunk", i, "range", c.String(), "sql", q.SQL)

		set, err := w.execute(ctx, sess, q.SQL)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (%s): %w", i, c, err)
		}
		log.Debug("chunk complete", "chunk", i, "range", c.String(), "rows", len(set))
		rows = append(rows, set...)
	}
	return rows, nil
}

// execute runs one chunk query and keeps only its first non-empty result set.
func (w *Worker) execute(ctx context.Context, sess Session, sql string) (ResultSet, error) {
	if w.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	sets, err := sess.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	set := FirstNonEmpty(sets)
	if m := metrics.Get(); m != nil {
		m.ObserveChunk(time.Since(start).Seconds(), len(set))
	}
	return set, nil
}
