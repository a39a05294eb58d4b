package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  CatalogConfig
	log  *slog.Logger
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		cfg:  cfg,
		log:  slog.With("component", "metadata"),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL run catalog")
	return w, nil
}

// initSchema creates the _meta_fetch_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordRun upserts the run summary.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_fetch_runs (
			run_id, caller, from_date, to_date, ledger_count, workers,
			retry_attempts, with_rows, failed, total_rows, manifest_uri,
			producer_version, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id)
		DO UPDATE SET
			with_rows = EXCLUDED.with_rows,
			failed = EXCLUDED.failed,
			total_rows = EXCLUDED.total_rows,
			manifest_uri = EXCLUDED.manifest_uri,
			finished_at = EXCLUDED.finished_at
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		nullable(rec.Caller),
		rec.FromDate,
		rec.ToDate,
		rec.LedgerCount,
		rec.Workers,
		rec.RetryAttempts,
		rec.WithRows,
		rec.Failed,
		rec.TotalRows,
		nullable(rec.ManifestURI),
		rec.ProducerVersion,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	w.log.Info("recorded run", "run_id", rec.RunID, "ledgers", rec.LedgerCount, "failed", rec.Failed)
	return nil
}

// RecordOutcome upserts one ledger outcome. The run row must exist.
func (w *PostgresWriter) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	query := `
		INSERT INTO _meta_fetch_outcomes (
			run_id, ledger_id, status, row_count, attempts, chunks,
			duration_ms, error_message, checksum, storage_path
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, ledger_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			row_count = EXCLUDED.row_count,
			attempts = EXCLUDED.attempts,
			error_message = EXCLUDED.error_message,
			checksum = EXCLUDED.checksum,
			storage_path = EXCLUDED.storage_path,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.LedgerID,
		rec.Status,
		rec.RowCount,
		rec.Attempts,
		rec.Chunks,
		rec.DurationMs,
		nullable(rec.ErrorMessage),
		nullable(rec.Checksum),
		nullable(rec.StoragePath),
	)
	if err != nil {
		return fmt.Errorf("record outcome for ledger %s: %w", rec.LedgerID, err)
	}
	return nil
}

// RunExists checks if a run has already been recorded.
func (w *PostgresWriter) RunExists(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := w.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM _meta_fetch_runs WHERE run_id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check run exists: %w", err)
	}
	return exists, nil
}

// RecentFailures returns ledger ids that failed in any of the last n runs.
func (w *PostgresWriter) RecentFailures(ctx context.Context, n int) ([]string, error) {
	query := `
		SELECT DISTINCT o.ledger_id
		FROM _meta_fetch_outcomes o
		JOIN (
			SELECT run_id FROM _meta_fetch_runs
			ORDER BY started_at DESC
			LIMIT $1
		) r ON r.run_id = o.run_id
		WHERE o.status = 'failed'
		ORDER BY o.ledger_id
	`

	rows, err := w.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("query recent failures: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scan recent failures: %w", err)
	}
	return ids, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Writer = (*PostgresWriter)(nil)
