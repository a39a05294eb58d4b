// Package fetch runs chunked, retrying per-ledger queries on a bounded pool.
package fetch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

// ErrNoLedgers is returned when a run is requested for zero ledgers.
var ErrNoLedgers = errors.New("no ledger ids requested")

// Record is one row keyed by column name.
type Record map[string]any

// FetchResult is one ledger's rows across all chunks, in chunk order.
type FetchResult []Record

// ResultMap maps every requested ledger id to its rows.
type ResultMap map[string]FetchResult

// ResultSet is one tabular result returned by a single execution.
type ResultSet []Record

// Session is one exclusively owned database connection.
type Session interface {
	// Query executes sql and returns every tabular result set in order.
	Query(ctx context.Context, sql string) ([]ResultSet, error)
	Close() error
}

// Connector opens a fresh Session per fetch attempt.
type Connector interface {
	Connect(ctx context.Context, cfg connstr.Config) (Session, error)
}

// FirstNonEmpty returns the first set with at least one row, or nil.
func FirstNonEmpty(sets []ResultSet) ResultSet {
	for _, s := range sets {
		if len(s) > 0 {
			return s
		}
	}
	return nil
}

// Outcome is the result of one ledger's fetch. A non-nil Err marks the
// ledger as failed after exhausting its attempts; Records is then empty.
type Outcome struct {
	LedgerID string
	Records  FetchResult
	Attempts int
	Chunks   int
	Duration time.Duration
	Err      error
}

// Failed reports whether the ledger exhausted its retries.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Result collapses the outcome to the rows handed downstream: a failed
// ledger yields an empty, non-nil FetchResult.
func (o Outcome) Result() FetchResult {
	if o.Failed() || o.Records == nil {
		return FetchResult{}
	}
	return o.Records
}

// Run is the outcome of one orchestration.
type Run struct {
	Requested []string
	Outcomes  map[string]Outcome
	Range     chunk.DateRange
	Started   time.Time
	Finished  time.Time
}

// Results returns the ResultMap for the run. Its key set equals Requested.
func (r *Run) Results() ResultMap {
	out := make(ResultMap, len(r.Requested))
	for _, id := range r.Requested {
		out[id] = r.Outcomes[id].Result()
	}
	return out
}

// Failed returns the sorted ids of ledgers that exhausted their retries.
func (r *Run) Failed() []string {
	var ids []string
	for id, o := range r.Outcomes {
		if o.Failed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// WithRows counts ledgers that returned at least one row.
func (r *Run) WithRows() int {
	n := 0
	for _, o := range r.Outcomes {
		if len(o.Records) > 0 && !o.Failed() {
			n++
		}
	}
	return n
}

// TotalRows sums rows across all ledgers.
func (r *Run) TotalRows() int {
	n := 0
	for _, o := range r.Outcomes {
		n += len(o.Result())
	}
	return n
}
