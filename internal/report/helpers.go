package report

import (
	"github.com/withObsrvr/ledger-fetcher/internal/export"
	"github.com/withObsrvr/ledger-fetcher/internal/metadata"
	"github.com/withObsrvr/ledger-fetcher/internal/notify"
)

const producerName = "ledger-fetcher"

// records builds the catalog rows for res. Outcomes carry the checksum and
// storage key of their export file when one was written.
func (p *Pipeline) records(req Request, res *Result) (metadata.RunRecord, []metadata.OutcomeRecord) {
	plan := res.Plan
	run := metadata.NewRunRecord(plan.RunID, res.Run)
	run.Caller = req.Caller
	run.FromDate = plan.Range.From
	run.ToDate = plan.Range.To
	run.Workers = p.opts.Workers
	run.RetryAttempts = p.opts.RetryAttempts
	run.ManifestURI = res.ManifestURI
	run.ProducerVersion = producerName + "@" + export.Version

	outcomes := metadata.OutcomeRecords(plan.RunID, res.Run)
	for i := range outcomes {
		if lf, ok := res.ledgerFile(outcomes[i].LedgerID); ok {
			outcomes[i].Checksum = lf.Checksum
			outcomes[i].StoragePath = lf.File
			// Exported counts reflect the balance-row collapse.
			outcomes[i].RowCount = lf.RowCount
		}
	}
	return run, outcomes
}

// buildEvent creates the report-ready event for res.
func buildEvent(req Request, res *Result, outcomes []metadata.OutcomeRecord) *notify.ReportEvent {
	evt := &notify.ReportEvent{
		Run: notify.RunInfo{
			RunID:       res.Plan.RunID,
			Caller:      req.Caller,
			RequestedBy: req.RequestedBy,
			Currency:    req.Currency,
			FromDate:    res.Plan.Range.From,
			ToDate:      res.Plan.Range.To,
		},
		ManifestURI: res.ManifestURI,
		Producer: notify.ProducerInfo{
			Name:    producerName,
			Version: export.Version,
			GitSHA:  export.GitSHA,
		},
	}

	for _, rec := range outcomes {
		li := notify.LedgerInfo{
			LedgerID: rec.LedgerID,
			Status:   rec.Status,
			RowCount: rec.RowCount,
			Checksum: rec.Checksum,
		}
		if info, ok := res.Info[rec.LedgerID]; ok {
			li.Code = info.Code
			li.Name = info.Name
			li.CompanyName = info.CompanyName
		}
		if lf, ok := res.ledgerFile(rec.LedgerID); ok {
			li.URI = lf.URI
		}
		evt.Ledgers = append(evt.Ledgers, li)
	}
	return evt
}
