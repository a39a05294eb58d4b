// Package notify emits "report ready" events for completed fetch runs.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/config"
)

// Emitter publishes report-ready events.
type Emitter interface {
	EmitReportReady(ctx context.Context, evt *ReportEvent) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration.
func NewEmitter(cfg config.NotifyConfig) Emitter {
	log := slog.With("component", "notify")
	if !cfg.Enabled {
		log.Debug("notifications disabled, using no-op emitter")
		return noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			log.Warn("failed to create HTTP emitter, falling back to file-only", "error", err)
			return createFileOnlyEmitter(cfg)
		}
		log.Info("using HTTP emitter", "endpoint", cfg.Endpoint)
		return emitter
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg config.NotifyConfig) Emitter {
	emitter, err := NewFileOnlyEmitter(cfg.BackupDir)
	if err != nil {
		slog.Warn("failed to create file emitter, using no-op", "component", "notify", "error", err)
		return noopEmitter{}
	}
	slog.Info("using file-only emitter", "component", "notify", "dir", cfg.BackupDir)
	return emitter
}

// prepare stamps identity and chain fields on evt and returns its caller
// chain. The chain is not advanced.
func prepare(evt *ReportEvent, chains *ReportChains) (string, error) {
	caller := evt.ChainKey()
	head, _, err := chains.Head(caller)
	if err != nil {
		return "", err
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Chain.Sequence = head.Sequence + 1
	evt.SetChainHashes(head.EventHash)
	return caller, nil
}

type noopEmitter struct{}

func (noopEmitter) EmitReportReady(_ context.Context, _ *ReportEvent) error { return nil }
func (noopEmitter) Close() error                                          { return nil }
