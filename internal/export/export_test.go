package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
	"github.com/withObsrvr/ledger-fetcher/internal/storage"
)

func testRun() *fetch.Run {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return &fetch.Run{
		Requested: []string{"101", "202", "303"},
		Outcomes: map[string]fetch.Outcome{
			"101": {LedgerID: "101", Attempts: 1, Records: fetch.FetchResult{
				{"Voucher Number": "Opening Balance", "Amount": decimal.RequireFromString("10.50")},
				{"Voucher Number": "JV-1", "Amount": decimal.RequireFromString("2.25")},
				{"Voucher Number": "Closing Balance", "Amount": decimal.RequireFromString("12.75")},
				{"Voucher Number": "Opening Balance", "Amount": decimal.RequireFromString("12.75")},
				{"Voucher Number": "JV-2", "Amount": decimal.RequireFromString("1.00")},
				{"Voucher Number": "Closing Balance", "Amount": decimal.RequireFromString("13.75")},
			}},
			"202": {LedgerID: "202", Attempts: 1, Records: fetch.FetchResult{}},
			"303": {LedgerID: "303", Attempts: 2, Err: errors.New("ledger 303 failed after 2 attempts: timeout")},
		},
		Range: chunk.DateRange{
			From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		Started:  start,
		Finished: start.Add(3 * time.Second),
	}
}

func newTestExporter(t *testing.T, format Format) (*Exporter, *storage.BlobStore) {
	t.Helper()
	store := storage.NewBlobStore(memblob.OpenBucket(nil), "mem://", "reports/")
	t.Cleanup(func() { store.Close() })
	e, err := NewExporter(store, Options{Format: format})
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return e, store
}

func TestExport_Parquet(t *testing.T) {
	e, store := newTestExporter(t, FormatParquet)
	ctx := context.Background()
	info := map[string]ledgers.Info{"101": {Code: "CASH", Name: "Cash"}, "202": {}}

	m, err := e.Export(ctx, "run-1", testRun(), info)
	require.NoError(t, err)

	require.Len(t, m.Ledgers, 3)
	assert.Equal(t, []string{"303"}, m.Failed)
	assert.Equal(t, int64(4), m.TotalRows)
	assert.Equal(t, 3*time.Second, m.Duration)

	first := m.Ledgers[0]
	assert.Equal(t, "101", first.LedgerID)
	assert.Equal(t, "reports/runs/run-1/ledgers/101.parquet", first.File)
	assert.Equal(t, StatusOK, first.Status)
	assert.Equal(t, int64(4), first.RowCount)
	require.NotNil(t, first.Info)
	assert.Equal(t, "CASH", first.Info.Code)

	assert.Equal(t, StatusEmpty, m.Ledgers[1].Status)
	assert.Nil(t, m.Ledgers[1].Info)
	assert.Equal(t, StatusFailed, m.Ledgers[2].Status)
	assert.Contains(t, m.Ledgers[2].Error, "timeout")
	assert.Zero(t, m.Ledgers[2].RowCount)

	data, err := store.Read(ctx, first.File)
	require.NoError(t, err)
	rows, err := parquet.Read[LedgerRow](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, int64(3), rows[3].RowIndex)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[0].Payload), &rec))
	assert.Equal(t, "Opening Balance", rec["Voucher Number"])
	assert.Equal(t, "10.5", rec["Amount"])
	require.NoError(t, json.Unmarshal([]byte(rows[3].Payload), &rec))
	assert.Equal(t, "Closing Balance", rec["Voucher Number"])
	assert.Equal(t, "13.75", rec["Amount"])

	manifestData, err := store.Read(ctx, "reports/runs/run-1/_manifest.json")
	require.NoError(t, err)
	var stored Manifest
	require.NoError(t, json.Unmarshal(manifestData, &stored))
	assert.Equal(t, "run-1", stored.RunID)
	assert.Equal(t, first.Checksum, stored.Ledgers[0].Checksum)

	assert.NoError(t, e.Verify(ctx, m))

	keys, err := store.List(ctx, "reports/runs/run-1/")
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}

func TestExport_JSONLZstd(t *testing.T) {
	e, store := newTestExporter(t, FormatJSONLZstd)
	ctx := context.Background()

	m, err := e.Export(ctx, "run-2", testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, "reports/runs/run-2/ledgers/101.jsonl.zst", m.Ledgers[0].File)

	data, err := store.Read(ctx, m.Ledgers[0].File)
	require.NoError(t, err)
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 4)
	assert.Equal(t, "JV-1", lines[1]["Voucher Number"])
	assert.Equal(t, "JV-2", lines[2]["Voucher Number"])
}

func TestExport_VerifyDetectsTampering(t *testing.T) {
	e, store := newTestExporter(t, FormatParquet)
	ctx := context.Background()

	m, err := e.Export(ctx, "run-3", testRun(), nil)
	require.NoError(t, err)
	file := m.Ledgers[0].File
	original, err := store.Read(ctx, file)
	require.NoError(t, err)

	flipped := bytes.Clone(original)
	flipped[len(flipped)/2] ^= 0xff
	require.NoError(t, store.Write(ctx, file, flipped))
	assert.ErrorContains(t, e.Verify(ctx, m), "checksum mismatch")

	require.NoError(t, store.Write(ctx, file, []byte("corrupt")))
	assert.ErrorContains(t, e.Verify(ctx, m), "size mismatch")

	require.NoError(t, store.Write(ctx, file, original))
	require.NoError(t, store.Write(ctx, "reports/runs/run-30/ledgers/1.parquet", []byte("other")))
	require.NoError(t, e.Verify(ctx, m), "files of run-30 are not part of run-3")

	require.NoError(t, store.Write(ctx, "reports/runs/run-3/ledgers/999.parquet", []byte("stray")))
	assert.ErrorContains(t, e.Verify(ctx, m), "reports/runs/run-3/ledgers/999.parquet")
}

func TestExport_KeepBalanceRows(t *testing.T) {
	store := storage.NewBlobStore(memblob.OpenBucket(nil), "mem://", "")
	defer store.Close()
	e, err := NewExporter(store, Options{Format: FormatJSONLZstd, KeepBalanceRows: true})
	require.NoError(t, err)

	m, err := e.Export(context.Background(), "run-4", testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), m.Ledgers[0].RowCount)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)

	f, err = ParseFormat("jsonl.zst")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONLZstd, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t,
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Checksum(nil))
}

func TestExport_ManifestRoundTrip(t *testing.T) {
	e, _ := newTestExporter(t, FormatJSONLZstd)
	ctx := context.Background()

	exists, err := e.Exists(ctx, "run-5")
	require.NoError(t, err)
	assert.False(t, exists)

	m, err := e.Export(ctx, "run-5", testRun(), nil)
	require.NoError(t, err)

	exists, err = e.Exists(ctx, "run-5")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "mem://reports/runs/run-5/_manifest.json", e.ManifestURI("run-5"))

	loaded, err := e.LoadManifest(ctx, "run-5")
	require.NoError(t, err)
	assert.Equal(t, m.TotalRows, loaded.TotalRows)
	require.NotNil(t, loaded.Window)
	assert.True(t, loaded.Window.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, loaded.Window.To.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	require.Len(t, loaded.Ledgers, 3)
	assert.Equal(t, m.Ledgers[0].Checksum, loaded.Ledgers[0].Checksum)
	assert.NoError(t, e.Verify(ctx, loaded))

	_, err = e.LoadManifest(ctx, "missing")
	assert.Error(t, err)
}
