package metadata

import (
	"context"
	"log/slog"
)

type CatalogConfig struct {
	PostgresDSN string
}

// Writer persists run and per-ledger outcome records.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
	Close() error
}

// RunChecker is implemented by writers that can tell whether a run id was
// already recorded.
type RunChecker interface {
	RunExists(ctx context.Context, runID string) (bool, error)
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		slog.Debug("run catalog disabled", "component", "metadata")
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) RecordRun(_ context.Context, _ RunRecord) error         { return nil }
func (noopWriter) RecordOutcome(_ context.Context, _ OutcomeRecord) error { return nil }
func (noopWriter) Close() error                                           { return nil }
