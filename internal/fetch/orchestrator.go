package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/logging"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
)

// DefaultWorkers is the pool size when a request leaves it unset.
const DefaultWorkers = 8

// Request describes one orchestration.
type Request struct {
	RunID         string
	ConnString    string
	Template      string
	LedgerIDs     []string
	Range         chunk.DateRange
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
	QueryTimeout  time.Duration
}

// Orchestrator fans ledgers out to Workers on a bounded pool.
type Orchestrator struct {
	connector Connector
	log       *slog.Logger
}

// NewOrchestrator creates an Orchestrator that opens sessions via connector.
func NewOrchestrator(connector Connector) *Orchestrator {
	return &Orchestrator{
		connector: connector,
		log:       slog.With("component", "orchestrator"),
	}
}

// Run fetches every requested ledger with at most req.Workers running at
// once and blocks until all have finished. Outcomes are collected as they
// complete. Every requested id appears in the returned Run exactly once,
// even if its task never reported.
//
// Cancelling ctx does not interrupt ledgers already in flight.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Run {
	ids := uniqueIDs(req.LedgerIDs)
	workers := req.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	attempts := req.RetryAttempts
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}

	run := &Run{
		Requested: ids,
		Outcomes:  make(map[string]Outcome, len(ids)),
		Range:     req.Range,
		Started:   time.Now(),
	}
	log := logging.RunLogger(req.RunID, len(ids), workers)
	if len(ids) == 0 {
		log.Warn("nothing to fetch", "error", ErrNoLedgers)
		run.Finished = time.Now()
		return run
	}

	worker := NewWorker(o.connector, WorkerConfig{
		ConnString:    req.ConnString,
		Template:      req.Template,
		Range:         req.Range,
		RetryAttempts: attempts,
		RetryBackoff:  req.RetryBackoff,
		QueryTimeout:  req.QueryTimeout,
	})

	log.Info("starting fetch",
		"from", req.Range.From.Format(time.DateTime),
		"to", req.Range.To.Format(time.DateTime),
		"retry_attempts", attempts,
	)

	taskCtx := context.WithoutCancel(ctx)
	if req.RunID != "" && logging.CorrelationID(taskCtx) == "" {
		taskCtx = logging.WithCorrelationID(taskCtx, req.RunID)
	}

	results := make(chan Outcome, len(ids))
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, id := range ids {
			g.Go(func() error {
				results <- o.runTask(taskCtx, worker, id)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	for out := range results {
		run.Outcomes[out.LedgerID] = out
	}

	for _, id := range ids {
		if _, ok := run.Outcomes[id]; !ok {
			log.Warn("ledger task never reported, using empty result", "ledger_id", id)
			run.Outcomes[id] = Outcome{LedgerID: id, Err: fmt.Errorf("ledger %s: no result reported", id)}
		}
	}

	run.Finished = time.Now()
	elapsed := run.Finished.Sub(run.Started)
	log.Info("completed fetch for all ledgers",
		"success", fmt.Sprintf("%d/%d", run.WithRows(), len(ids)),
		"failed", len(run.Failed()),
		"rows", run.TotalRows(),
		"duration", elapsed.String(),
	)
	if m := metrics.Get(); m != nil {
		m.ObserveRun(elapsed.Seconds())
	}
	return run
}

// runTask wraps Worker.Fetch so a panicking task still reports an outcome.
func (o *Orchestrator) runTask(ctx context.Context, w *Worker, id string) (out Outcome) {
	if m := metrics.Get(); m != nil {
		m.AddInFlightLedgers(1)
		defer m.AddInFlightLedgers(-1)
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("ledger task panicked", "ledger_id", id, "panic", r)
			out = Outcome{LedgerID: id, Err: fmt.Errorf("ledger %s: panic: %v", id, r)}
		}
	}()
	return w.Fetch(ctx, id)
}

// FetchAll runs req and collapses failures to empty results.
func FetchAll(ctx context.Context, connector Connector, req Request) ResultMap {
	return NewOrchestrator(connector).Run(ctx, req).Results()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
