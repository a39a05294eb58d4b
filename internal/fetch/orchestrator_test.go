package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
)

func january() chunk.DateRange {
	return chunk.DateRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
	}
}

func request(ids ...string) Request {
	return Request{
		RunID:         "run-test",
		ConnString:    testConnString,
		Template:      testTemplate,
		LedgerIDs:     ids,
		Range:         january(),
		Workers:       4,
		RetryAttempts: 2,
	}
}

func TestOrchestrator_KeySetMatchesRequest(t *testing.T) {
	conn := &fakeConnector{
		query: func(ledgerID, sql string) ([]ResultSet, error) {
			switch ledgerID {
			case "bad":
				return nil, errors.New("invalid object name")
			case "empty":
				return []ResultSet{{}}, nil
			default:
				return []ResultSet{rows(ledgerID, fromDateOf(sql), 3)}, nil
			}
		},
	}

	run := NewOrchestrator(conn).Run(context.Background(), request("1", "bad", "2", "empty"))
	results := run.Results()

	require.Len(t, results, 4)
	assert.Len(t, results["1"], 3)
	assert.Len(t, results["2"], 3)
	assert.NotNil(t, results["bad"])
	assert.Empty(t, results["bad"])
	assert.NotNil(t, results["empty"])
	assert.Empty(t, results["empty"])

	assert.Equal(t, []string{"bad"}, run.Failed())
	assert.Equal(t, january(), run.Range)
	assert.Equal(t, 2, run.WithRows())
	assert.Equal(t, 6, run.TotalRows())
	assert.Equal(t, 2, run.Outcomes["bad"].Attempts)
	assert.Equal(t, 1, run.Outcomes["empty"].Attempts)
}

func TestOrchestrator_PoolBoundsConcurrency(t *testing.T) {
	const delay = 100 * time.Millisecond
	conn := &fakeConnector{
		delay: delay,
		query: func(ledgerID, sql string) ([]ResultSet, error) {
			return []ResultSet{rows(ledgerID, fromDateOf(sql), 1)}, nil
		},
	}
	req := request("1", "2", "3", "4", "5")
	req.Workers = 2

	start := time.Now()
	run := NewOrchestrator(conn).Run(context.Background(), req)
	elapsed := time.Since(start)

	assert.Len(t, run.Results(), 5)
	assert.Equal(t, int32(2), conn.maxInFlight.Load(), "at most two ledgers may hold a connection")
	// Five single-chunk ledgers on two workers need three rounds, not five.
	assert.GreaterOrEqual(t, elapsed, 3*delay-10*time.Millisecond)
	assert.Less(t, elapsed, 4*delay)
}

func TestOrchestrator_DuplicateIDsFetchedOnce(t *testing.T) {
	conn := &fakeConnector{
		query: func(ledgerID, sql string) ([]ResultSet, error) {
			return []ResultSet{rows(ledgerID, fromDateOf(sql), 1)}, nil
		},
	}

	run := NewOrchestrator(conn).Run(context.Background(), request("9", "4", "9", "4", "9"))

	assert.Equal(t, []string{"9", "4"}, run.Requested)
	assert.Len(t, run.Results(), 2)
	assert.Len(t, conn.queries["9"], 1)
	assert.Len(t, conn.queries["4"], 1)
}

func TestOrchestrator_NoLedgers(t *testing.T) {
	conn := &fakeConnector{}

	run := NewOrchestrator(conn).Run(context.Background(), request())

	assert.Empty(t, run.Results())
	assert.Empty(t, run.Failed())
	attempts, _, _ := conn.stats()
	assert.Zero(t, attempts)
}

func TestOrchestrator_CancelledContextDoesNotAbortLedgers(t *testing.T) {
	conn := &fakeConnector{
		query: func(ledgerID, sql string) ([]ResultSet, error) {
			return []ResultSet{rows(ledgerID, fromDateOf(sql), 1)}, nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := NewOrchestrator(conn).Run(ctx, request("1", "2"))

	assert.Empty(t, run.Failed())
	assert.Equal(t, 2, run.TotalRows())
}

func TestOrchestrator_PanickingLedgerStillReports(t *testing.T) {
	conn := &fakeConnector{
		query: func(ledgerID, sql string) ([]ResultSet, error) {
			if ledgerID == "boom" {
				panic("driver bug")
			}
			return []ResultSet{rows(ledgerID, fromDateOf(sql), 1)}, nil
		},
	}

	var run *Run
	require.NotPanics(t, func() {
		run = NewOrchestrator(conn).Run(context.Background(), request("1", "boom"))
	})

	assert.Equal(t, []string{"boom"}, run.Failed())
	assert.Empty(t, run.Results()["boom"])
	assert.Len(t, run.Results()["1"], 1)
	_, opened, closed := conn.stats()
	assert.Equal(t, opened, closed)
}

func TestFetchAll(t *testing.T) {
	conn := &fakeConnector{connectErr: func(int) error { return errConnect }}

	results := FetchAll(context.Background(), conn, request("1", "2"))

	require.Len(t, results, 2)
	assert.Empty(t, results["1"])
	assert.Empty(t, results["2"])
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, uniqueIDs([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, uniqueIDs(nil))
}
