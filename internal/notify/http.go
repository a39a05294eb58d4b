package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/withObsrvr/ledger-fetcher/internal/config"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
)

// HTTPEmitter posts events to an HTTP endpoint, keeping a local backup.
type HTTPEmitter struct {
	cfg          config.NotifyConfig
	client       *http.Client
	chains       *ReportChains
	backup       *FileBackup
	initialDelay time.Duration
	log          *slog.Logger
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg config.NotifyConfig) (*HTTPEmitter, error) {
	chains, err := OpenReportChains(cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	if cfg.Retries < 1 {
		cfg.Retries = 1
	}

	return &HTTPEmitter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		chains:       chains,
		backup:       backup,
		initialDelay: time.Second,
		log:          slog.With("component", "notify"),
	}, nil
}

// EmitReportReady backs the event up locally and posts it. The chain head
// only advances after a successful post.
func (e *HTTPEmitter) EmitReportReady(ctx context.Context, evt *ReportEvent) error {
	caller, err := prepare(evt, e.chains)
	if err != nil {
		return fmt.Errorf("notify chain: %w", err)
	}
	log := e.log.With("run_id", evt.Run.RunID, "caller", caller, "sequence", evt.Chain.Sequence)
	log.Info("emitting report event", "prev_hash", evt.Chain.PrevEventHash, "event_hash", evt.Chain.EventHash)

	if err := e.backup.Save(evt); err != nil {
		log.Warn("event backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncSinkErrors("notify")
		}
		return fmt.Errorf("notify emit failed: %w", err)
	}

	if err := e.chains.Advance(caller, evt); err != nil {
		log.Warn("failed to update chain head", "error", err)
	}
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *ReportEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.Retries-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return e.post(ctx, evt)
	}, policy, func(err error, wait time.Duration) {
		e.log.Warn("post failed, retrying", "attempt", attempt, "retries", e.cfg.Retries, "backoff", wait, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts("notify_post")
		}
	})
}

// post sends a single POST request. Client errors are not retried.
func (e *HTTPEmitter) post(ctx context.Context, evt *ReportEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.log.Debug("event posted", "endpoint", e.cfg.Endpoint, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
