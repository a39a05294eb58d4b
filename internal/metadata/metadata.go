package metadata

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
)

// Outcome statuses.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// RunRecord summarises one fetch run.
type RunRecord struct {
	RunID           string    `json:"run_id"`
	Caller          string    `json:"caller,omitempty"`
	FromDate        time.Time `json:"from_date"`
	ToDate          time.Time `json:"to_date"`
	LedgerCount     int       `json:"ledger_count"`
	Workers         int       `json:"workers"`
	RetryAttempts   int       `json:"retry_attempts"`
	WithRows        int       `json:"with_rows"`
	Failed          int       `json:"failed"`
	TotalRows       int64     `json:"total_rows"`
	ManifestURI     string    `json:"manifest_uri,omitempty"`
	ProducerVersion string    `json:"producer_version"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// OutcomeRecord is one ledger's result within a run.
type OutcomeRecord struct {
	RunID        string `json:"run_id"`
	LedgerID     string `json:"ledger_id"`
	Status       string `json:"status"`
	RowCount     int64  `json:"row_count"`
	Attempts     int    `json:"attempts"`
	Chunks       int    `json:"chunks"`
	DurationMs   int64  `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	StoragePath  string `json:"storage_path,omitempty"`
}

// NewRunRecord fills the counters of a RunRecord from run.
func NewRunRecord(runID string, run *fetch.Run) RunRecord {
	return RunRecord{
		RunID:       runID,
		LedgerCount: len(run.Requested),
		WithRows:    run.WithRows(),
		Failed:      len(run.Failed()),
		TotalRows:   int64(run.TotalRows()),
		StartedAt:   run.Started.UTC(),
		FinishedAt:  run.Finished.UTC(),
	}
}

// OutcomeRecords converts every requested ledger of run, sorted by ledger id.
func OutcomeRecords(runID string, run *fetch.Run) []OutcomeRecord {
	out := make([]OutcomeRecord, 0, len(run.Requested))
	for _, id := range run.Requested {
		o := run.Outcomes[id]
		rec := OutcomeRecord{
			RunID:      runID,
			LedgerID:   id,
			Status:     StatusOK,
			RowCount:   int64(len(o.Result())),
			Attempts:   o.Attempts,
			Chunks:     o.Chunks,
			DurationMs: o.Duration.Milliseconds(),
		}
		switch {
		case o.Failed():
			rec.Status = StatusFailed
			rec.ErrorMessage = o.Err.Error()
		case rec.RowCount == 0:
			rec.Status = StatusEmpty
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LedgerID < out[j].LedgerID })
	return out
}

// Summary is the local JSON form of a run.
type Summary struct {
	Run      RunRecord       `json:"run"`
	Outcomes []OutcomeRecord `json:"outcomes"`
}

func (s *Summary) WriteJSON(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
