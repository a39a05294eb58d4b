package report

import (
	"errors"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/export"
	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
)

var (
	// ErrRunExists is returned when a run id has already been published and
	// overwrite is disabled.
	ErrRunExists = errors.New("run already exists")

	// ErrNoConnString is returned when a request names neither a connection
	// string nor a caller that can be resolved to one.
	ErrNoConnString = errors.New("no connection string or caller code")

	// ErrEmptyTemplate is returned for a blank query template.
	ErrEmptyTemplate = errors.New("query template is empty")
)

// Request is one report job as submitted by a caller.
type Request struct {
	// RunID is generated when empty.
	RunID string
	// Template is the raw query template with @StrLedgers, @FromDate and
	// @ToDate assignments.
	Template string

	// ConnString takes precedence over Caller.
	ConnString string
	// Caller selects the database through the secret store.
	Caller string

	// LedgerIDs overrides the ids in @StrLedgers when set.
	LedgerIDs []string
	// From and To override the template dates when both are set.
	From time.Time
	To   time.Time

	RequestedBy string
	Currency    string
}

// Plan is a resolved Request: everything needed to run the fetch.
type Plan struct {
	RunID      string
	Caller     string
	ConnString string
	Template   string
	LedgerIDs  []string
	Range      chunk.DateRange
	Chunks     []chunk.Chunk
}

// Result is a completed run.
type Result struct {
	Plan        *Plan
	Run         *fetch.Run
	Info        map[string]ledgers.Info
	Manifest    *export.Manifest
	ManifestURI string
}

// Results returns the per-ledger rows handed to report rendering.
func (r *Result) Results() fetch.ResultMap {
	return r.Run.Results()
}

// ledgerFile returns the manifest entry for id, if exported.
func (r *Result) ledgerFile(id string) (export.LedgerFile, bool) {
	if r.Manifest == nil {
		return export.LedgerFile{}, false
	}
	for _, lf := range r.Manifest.Ledgers {
		if lf.LedgerID == id {
			return lf, true
		}
	}
	return export.LedgerFile{}, false
}
