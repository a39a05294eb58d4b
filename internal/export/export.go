// Package export writes a fetch run to object storage: one file per ledger
// plus a JSON manifest describing the run.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
	"github.com/withObsrvr/ledger-fetcher/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Ledger statuses recorded in the manifest.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// Manifest describes the files of one exported run.
type Manifest struct {
	RunID     string        `json:"run_id"`
	Format    Format        `json:"format"`
	Ledgers   []LedgerFile  `json:"ledgers"`
	Failed    []string      `json:"failed,omitempty"`
	TotalRows int64         `json:"total_rows"`
	Producer  ProducerInfo  `json:"producer"`
	Window    *WindowInfo   `json:"window,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"fetch_duration_ns"`
}

// LedgerFile describes one ledger's export file.
type LedgerFile struct {
	LedgerID string        `json:"ledger_id"`
	File     string        `json:"file"`
	URI      string        `json:"uri"`
	Checksum string        `json:"checksum"`
	RowCount int64         `json:"row_count"`
	ByteSize int64         `json:"byte_size"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Info     *ledgers.Info `json:"info,omitempty"`
}

// WindowInfo is the requested date window.
type WindowInfo struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ProducerInfo describes the software that produced the export.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// Checksum computes a SHA256 checksum for the given data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Options configures an Exporter.
type Options struct {
	Format Format
	// KeepBalanceRows disables collapsing of per-chunk opening/closing rows.
	KeepBalanceRows bool
}

// Exporter writes runs to an AtomicStore.
type Exporter struct {
	store  storage.AtomicStore
	opts   Options
	encode encoder
	now    func() time.Time
	log    *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(store storage.AtomicStore, opts Options) (*Exporter, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = format
	return &Exporter{
		store:  store,
		opts:   opts,
		encode: encoderFor(format),
		now:    time.Now,
		log:    slog.With("component", "export"),
	}, nil
}

// Export writes every requested ledger of run, failed ones as empty files,
// then the manifest. Files are staged under temporary keys and published
// together; on any error nothing is published.
func (e *Exporter) Export(ctx context.Context, runID string, run *fetch.Run, info map[string]ledgers.Info) (*Manifest, error) {
	m, err := e.export(ctx, runID, run, info)
	if err != nil {
		if mm := metrics.Get(); mm != nil {
			mm.IncSinkErrors("export")
		}
		return nil, err
	}
	return m, nil
}

func (e *Exporter) export(ctx context.Context, runID string, run *fetch.Run, info map[string]ledgers.Info) (*Manifest, error) {
	ref := storage.ReportRef{RunID: runID}
	prefix := e.store.Prefix()
	at := e.now().UTC()
	log := e.log.With("run_id", runID)

	m := &Manifest{
		RunID:  runID,
		Format: e.opts.Format,
		Producer: ProducerInfo{
			Name:    "ledger-fetcher",
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: at,
		Failed:    run.Failed(),
		Duration:  run.Finished.Sub(run.Started),
	}
	if !run.Range.From.IsZero() {
		m.Window = &WindowInfo{From: run.Range.From, To: run.Range.To}
	}

	var tempKeys, finalKeys []string
	abort := func() {
		if len(tempKeys) > 0 {
			if err := e.store.Abort(ctx, tempKeys); err != nil {
				log.Warn("abort staged export files", "error", err)
			}
		}
	}

	for _, id := range run.Requested {
		out := run.Outcomes[id]
		rows := out.Result()
		if !e.opts.KeepBalanceRows {
			rows = CollapseBalances(rows)
		}

		data, err := e.encode(runID, id, rows, at)
		if err != nil {
			abort()
			return nil, fmt.Errorf("encode ledger %s: %w", id, err)
		}

		key := ref.LedgerPath(prefix, id, e.opts.Format.Ext())
		tempKey, err := e.store.WriteTemp(ctx, key, data)
		if err != nil {
			abort()
			return nil, fmt.Errorf("stage ledger %s: %w", id, err)
		}
		tempKeys = append(tempKeys, tempKey)
		finalKeys = append(finalKeys, key)

		lf := LedgerFile{
			LedgerID: id,
			File:     key,
			URI:      e.store.URI(key),
			Checksum: Checksum(data),
			RowCount: int64(len(rows)),
			ByteSize: int64(len(data)),
			Status:   ledgerStatus(out),
			Attempts: out.Attempts,
		}
		if out.Err != nil {
			lf.Error = out.Err.Error()
		}
		if li, ok := info[id]; ok && li.Found() {
			lf.Info = &li
		}
		m.Ledgers = append(m.Ledgers, lf)
		m.TotalRows += lf.RowCount

		log.Debug("staged ledger export", "ledger_id", id, "rows", lf.RowCount, "bytes", lf.ByteSize)
	}

	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		abort()
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestKey := ref.ManifestPath(prefix)
	tempManifest, err := e.store.WriteTemp(ctx, manifestKey, manifestData)
	if err != nil {
		abort()
		return nil, fmt.Errorf("stage manifest: %w", err)
	}
	tempKeys = append(tempKeys, tempManifest)
	finalKeys = append(finalKeys, manifestKey)

	if err := e.store.Finalize(ctx, tempKeys, finalKeys); err != nil {
		return nil, fmt.Errorf("publish export: %w", err)
	}

	log.Info("export published",
		"ledgers", len(m.Ledgers),
		"failed", len(m.Failed),
		"rows", m.TotalRows,
		"manifest", e.store.URI(manifestKey),
	)
	return m, nil
}

// Verify re-reads every file in m and compares sizes and checksums. Files
// under the run's directory that m does not list are reported too.
func (e *Exporter) Verify(ctx context.Context, m *Manifest) error {
	ref := storage.ReportRef{RunID: m.RunID}
	prefix := e.store.Prefix()
	listed := map[string]bool{ref.ManifestPath(prefix): true}

	for _, lf := range m.Ledgers {
		listed[lf.File] = true
		obj, err := e.store.Head(ctx, lf.File)
		if err != nil {
			return err
		}
		if obj.Size != lf.ByteSize {
			return fmt.Errorf("size mismatch for %s: got %d, want %d", lf.File, obj.Size, lf.ByteSize)
		}
		data, err := e.store.Read(ctx, lf.File)
		if err != nil {
			return err
		}
		if got := Checksum(data); got != lf.Checksum {
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", lf.File, got, lf.Checksum)
		}
	}

	keys, err := e.store.List(ctx, ref.DirPath(prefix)+"/")
	if err != nil {
		return err
	}
	var extra []string
	for _, key := range keys {
		if !listed[key] {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		return fmt.Errorf("files not in manifest of run %s: %v", m.RunID, extra)
	}
	return nil
}

func ledgerStatus(o fetch.Outcome) string {
	switch {
	case o.Failed():
		return StatusFailed
	case len(o.Records) == 0:
		return StatusEmpty
	default:
		return StatusOK
	}
}

// ManifestURI returns where Export publishes the manifest of runID.
func (e *Exporter) ManifestURI(runID string) string {
	return e.store.URI(storage.ReportRef{RunID: runID}.ManifestPath(e.store.Prefix()))
}

// Exists reports whether a manifest for runID has already been published.
func (e *Exporter) Exists(ctx context.Context, runID string) (bool, error) {
	return e.store.Exists(ctx, storage.ReportRef{RunID: runID}.ManifestPath(e.store.Prefix()))
}

// LoadManifest reads the published manifest of runID.
func (e *Exporter) LoadManifest(ctx context.Context, runID string) (*Manifest, error) {
	data, err := e.store.Read(ctx, storage.ReportRef{RunID: runID}.ManifestPath(e.store.Prefix()))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
