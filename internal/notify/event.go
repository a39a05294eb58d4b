package notify

import (
	"time"
)

const (
	EventVersion = "1.0"
	EventType    = "ledger_report_ready"
)

// ReportEvent tells the downstream renderer/mailer that a run's export is
// ready to be turned into a report.
type ReportEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run         RunInfo      `json:"run"`
	Ledgers     []LedgerInfo `json:"ledgers"`
	ManifestURI string       `json:"manifest_uri,omitempty"`
	Producer    ProducerInfo `json:"producer"`
	Chain       ChainInfo    `json:"chain"`
}

// RunInfo identifies the run being reported.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Caller      string    `json:"caller,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	FromDate    time.Time `json:"from_date"`
	ToDate      time.Time `json:"to_date"`
}

// LedgerInfo describes one ledger in the run.
type LedgerInfo struct {
	LedgerID    string `json:"ledger_id"`
	Code        string `json:"code,omitempty"`
	Name        string `json:"name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Status      string `json:"status"`
	RowCount    int64  `json:"row_count"`
	Checksum    string `json:"checksum,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links events of the same caller into a tamper-evident log.
// Sequence counts the caller's reports, starting at 1.
type ChainInfo struct {
	Sequence      int64  `json:"sequence"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to: one per caller.
func (e *ReportEvent) ChainKey() string {
	if e.Run.Caller == "" {
		return "default"
	}
	return e.Run.Caller
}

// SetChainHashes links the event to prevHash and computes its own hash.
func (e *ReportEvent) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}
