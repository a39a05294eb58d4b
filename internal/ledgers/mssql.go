package ledgers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

const metadataQuery = `
SELECT DISTINCT
  d.Alm_ID_N      AS LedgerID,
  d.Ald_Code_V    AS code,
  d.Ald_Name_V    AS name,
  c.Cmp_Name_V    AS company_name,
  c.Cmp_Address_V AS company_address
FROM dbo.Fin_AccountLedger_Dtl AS d
INNER JOIN dbo.Fin_AccountLedger_Mst AS m ON d.Alm_ID_N = m.Alm_ID_N
LEFT JOIN dbo.Adm_Company_Mst AS c ON m.Cmp_ID_N = c.Cmp_ID_N
WHERE d.Alm_ID_N IN (%s)`

// MSSQLOpener opens metadata stores on SQL Server.
type MSSQLOpener struct{}

func (MSSQLOpener) Open(ctx context.Context, cfg connstr.Config) (Store, error) {
	connector, err := mssql.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &mssqlStore{db: db}, nil
}

type mssqlStore struct {
	db *sql.DB
}

func (s *mssqlStore) Rows(ctx context.Context, ids []int64) ([]Row, error) {
	query, args := buildQuery(ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var code, name sql.NullString
		if err := rows.Scan(&r.LedgerID, &code, &name, &r.CompanyName, &r.CompanyAddress); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.Code, r.Name = code.String, name.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *mssqlStore) Close() error {
	return s.db.Close()
}

// buildQuery renders the IN list as @p1..@pN placeholders.
func buildQuery(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
		args[i] = id
	}
	return fmt.Sprintf(metadataQuery, strings.Join(placeholders, ",")), args
}
