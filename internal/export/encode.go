package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
)

// Format selects the on-disk encoding of exported ledgers.
type Format string

const (
	FormatParquet   Format = "parquet"
	FormatJSONLZstd Format = "jsonl.zst"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatParquet, FormatJSONLZstd:
		return Format(s), nil
	case "":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want parquet or jsonl.zst)", s)
	}
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	return string(f)
}

// LedgerRow is one parquet row. Stored procedure columns vary per report so
// the record itself is kept as a JSON object.
type LedgerRow struct {
	RunID      string    `parquet:"run_id"`
	LedgerID   string    `parquet:"ledger_id"`
	RowIndex   int64     `parquet:"row_index"`
	Payload    string    `parquet:"payload"`
	ExportedAt time.Time `parquet:"exported_at,timestamp(millisecond)"`
}

// encoder renders one ledger's rows.
type encoder func(runID, ledgerID string, rows fetch.FetchResult, at time.Time) ([]byte, error)

func encoderFor(f Format) encoder {
	if f == FormatJSONLZstd {
		return encodeJSONL
	}
	return encodeParquet
}

func encodeParquet(runID, ledgerID string, rows fetch.FetchResult, at time.Time) ([]byte, error) {
	out := make([]LedgerRow, 0, len(rows))
	for i, rec := range rows {
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal row %d: %w", i, err)
		}
		out = append(out, LedgerRow{
			RunID:      runID,
			LedgerID:   ledgerID,
			RowIndex:   int64(i),
			Payload:    string(payload),
			ExportedAt: at,
		})
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[LedgerRow](&buf, parquet.Compression(&parquet.Snappy))
	if len(out) > 0 {
		if _, err := w.Write(out); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJSONL(_, _ string, rows fetch.FetchResult, _ time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	enc := json.NewEncoder(zw)
	for i, rec := range rows {
		if err := enc.Encode(rec); err != nil {
			zw.Close()
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zstd encoder: %w", err)
	}
	return buf.Bytes(), nil
}
