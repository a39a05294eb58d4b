// Package ledgers looks up descriptive metadata for ledger ids: ledger code
// and name plus the owning company's name and address.
package ledgers

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

// Info describes one ledger. The zero value means the ledger was not found.
type Info struct {
	Code           string `json:"code,omitempty"`
	Name           string `json:"name,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
	CompanyAddress string `json:"company_address,omitempty"`
}

// Found reports whether the lookup returned a row for the ledger.
func (i Info) Found() bool {
	return i != Info{}
}

// Row is one metadata row as read from the database.
type Row struct {
	LedgerID       int64
	Code           string
	Name           string
	CompanyName    sql.NullString
	CompanyAddress sql.NullString
}

// Store runs the metadata query for a set of numeric ledger ids.
type Store interface {
	Rows(ctx context.Context, ids []int64) ([]Row, error)
	Close() error
}

// Opener opens a Store for a parsed connection config.
type Opener interface {
	Open(ctx context.Context, cfg connstr.Config) (Store, error)
}

// Lookup fetches metadata for ids in a single query. The connection string is
// parsed before anything else so configuration errors surface synchronously.
// Requested ids without a row map to an empty Info. An empty id list returns
// an empty map without touching the database.
func Lookup(ctx context.Context, opener Opener, raw string, ids []string) (map[string]Info, error) {
	log := slog.With("component", "ledgers")
	meta := make(map[string]Info, len(ids))
	if len(ids) == 0 {
		log.Warn("no ledger ids provided for metadata lookup")
		return meta, nil
	}

	cfg, err := connstr.Parse(raw)
	if err != nil {
		return nil, err
	}

	numeric, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}

	log.Info("fetching ledger metadata", "ledgers", len(numeric), "conn", cfg)
	store, err := opener.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	rows, err := store.Rows(ctx, numeric)
	if err != nil {
		return nil, fmt.Errorf("query ledger metadata: %w", err)
	}

	for _, r := range rows {
		meta[strconv.FormatInt(r.LedgerID, 10)] = Info{
			Code:           r.Code,
			Name:           r.Name,
			CompanyName:    r.CompanyName.String,
			CompanyAddress: r.CompanyAddress.String,
		}
	}

	var missing []string
	for _, id := range ids {
		key := strings.TrimSpace(id)
		if _, ok := meta[key]; !ok {
			meta[key] = Info{}
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Warn("metadata not found for ledgers", "ledger_ids", missing)
	}

	log.Info("fetched ledger metadata", "found", len(meta)-len(missing), "requested", len(ids))
	return meta, nil
}

func parseIDs(ids []string) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger id %q is not numeric: %w", id, err)
		}
		out = append(out, n)
	}
	return out, nil
}
