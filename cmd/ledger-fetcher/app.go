package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/config"
	"github.com/withObsrvr/ledger-fetcher/internal/export"
	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
	"github.com/withObsrvr/ledger-fetcher/internal/metadata"
	"github.com/withObsrvr/ledger-fetcher/internal/notify"
	"github.com/withObsrvr/ledger-fetcher/internal/report"
	"github.com/withObsrvr/ledger-fetcher/internal/secrets"
	"github.com/withObsrvr/ledger-fetcher/internal/storage"
)

// app owns the long-lived collaborators of one command invocation.
type app struct {
	cfg      config.Config
	store    storage.AtomicStore
	exporter *export.Exporter
	catalog  metadata.Writer
	notifier notify.Emitter
	secrets  *secrets.App
}

// openApp connects every configured backend. Missing optional backends
// (export bucket, catalog DSN, notify endpoint, secret store) are skipped.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	log := slog.With("component", "main")

	if cfg.Secrets.URLTemplate != "" {
		resolver, err := secrets.NewResolver(cfg.Secrets.URLTemplate, time.Duration(cfg.Secrets.TimeoutS)*time.Second)
		if err != nil {
			return nil, err
		}
		a.secrets, err = secrets.NewApp(ctx, resolver, cfg.Secrets.ConnTemplateName)
		if err != nil {
			return nil, err
		}
		log.Info("connection template loaded", "secret", cfg.Secrets.ConnTemplateName)
	}

	if cfg.Export.Enabled() {
		store, err := storage.NewAtomicStore(ctx, storage.StorageConfig{
			BucketURL: cfg.Export.BucketURL,
			Prefix:    cfg.Export.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open export bucket: %w", err)
		}
		a.store = store
		a.exporter, err = export.NewExporter(store, export.Options{
			Format:          export.Format(cfg.Export.Format),
			KeepBalanceRows: cfg.Export.KeepBalanceRows,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("export enabled", "bucket", cfg.Export.BucketURL, "format", cfg.Export.Format)
	}

	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err != nil {
		if cfg.Catalog.Strict {
			a.Close()
			return nil, fmt.Errorf("open run catalog: %w", err)
		}
		log.Warn("run catalog unavailable, continuing without it", "error", err)
		catalog, _ = metadata.NewWriter(ctx, metadata.CatalogConfig{})
	}
	a.catalog = catalog

	a.notifier = notify.NewEmitter(cfg.Notify)
	return a, nil
}

// pipeline builds a report pipeline over the app's backends.
func (a *app) pipeline(opts report.Options) *report.Pipeline {
	return report.New(report.Deps{
		Connector: fetch.MSSQLConnector{},
		Ledgers:   ledgers.MSSQLOpener{},
		Secrets:   a.secrets,
		Exporter:  a.exporter,
		Catalog:   a.catalog,
		Notifier:  a.notifier,
	}, opts)
}

func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
