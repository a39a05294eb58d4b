package fetch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

// MSSQLConnector opens SQL Server sessions through go-mssqldb.
type MSSQLConnector struct{}

// Connect opens exactly one physical connection. The backing *sql.DB is
// capped at a single connection and closed together with the session.
func (MSSQLConnector) Connect(ctx context.Context, cfg connstr.Config) (Session, error) {
	connector, err := mssql.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return &mssqlSession{db: db, conn: conn}, nil
}

type mssqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

// Query reads every result set that carries columns. Sets without a column
// description (row counts, PRINT output) are not reported.
func (s *mssqlSession) Query(ctx context.Context, query string) ([]ResultSet, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	defer rows.Close()

	var sets []ResultSet
	for {
		set, hasColumns, err := scanResultSet(rows)
		if err != nil {
			return nil, err
		}
		if hasColumns {
			sets = append(sets, set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read result sets: %w", err)
	}
	return sets, nil
}

func (s *mssqlSession) Close() error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

func scanResultSet(rows *sql.Rows) (ResultSet, bool, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, false, fmt.Errorf("column types: %w", err)
	}
	if len(cols) == 0 {
		return nil, false, nil
	}

	set := ResultSet{}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, true, fmt.Errorf("scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			rec[col.Name()] = normalizeValue(col.DatabaseTypeName(), values[i])
		}
		set = append(set, rec)
	}
	return set, true, nil
}

// normalizeValue maps driver values to stable Go types: exact numerics
// become decimal.Decimal and uniqueidentifiers their canonical string.
func normalizeValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return string(b)
		}
		return d
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err != nil {
			return b
		}
		return id.String()
	case "VARBINARY", "BINARY", "IMAGE", "TIMESTAMP", "ROWVERSION":
		return append([]byte(nil), b...)
	default:
		return string(b)
	}
}
