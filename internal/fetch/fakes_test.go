package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

const testConnString = "Server=db1,1433;Database=erp;User Id=admin;Password=secret"

const testTemplate = "EXEC dbo.usp_LedgerReport @StrLedgers='1', @FromDate='01-Jan-2024', @ToDate='31-Mar-2024'"

var errConnect = errors.New("connection refused")

// fakeConnector hands out fakeSessions and records how they were used.
type fakeConnector struct {
	mu sync.Mutex

	// connectErr, when set, decides per (ledger-agnostic) attempt whether Connect fails.
	connectErr func(attempt int) error
	// query answers one rewritten query for a ledger.
	query func(ledgerID, sql string) ([]ResultSet, error)
	// delay is slept inside every query.
	delay time.Duration

	attempts int
	opened   int
	closed   int
	queries  map[string][]string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeConnector) Connect(ctx context.Context, cfg connstr.Config) (Session, error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if f.connectErr != nil {
		if err := f.connectErr(attempt); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.opened++
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	return &fakeSession{f: f}, nil
}

func (f *fakeConnector) stats() (attempts, opened, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, f.opened, f.closed
}

type fakeSession struct {
	f      *fakeConnector
	closed bool
}

func (s *fakeSession) Query(ctx context.Context, sql string) ([]ResultSet, error) {
	if s.f.delay > 0 {
		time.Sleep(s.f.delay)
	}
	ledgerID := ledgerFromSQL(sql)

	s.f.mu.Lock()
	if s.f.queries == nil {
		s.f.queries = make(map[string][]string)
	}
	s.f.queries[ledgerID] = append(s.f.queries[ledgerID], sql)
	s.f.mu.Unlock()

	if s.f.query == nil {
		return nil, nil
	}
	return s.f.query(ledgerID, sql)
}

func (s *fakeSession) Close() error {
	if s.closed {
		return errors.New("double close")
	}
	s.closed = true
	s.f.inFlight.Add(-1)
	s.f.mu.Lock()
	s.f.closed++
	s.f.mu.Unlock()
	return nil
}

// ledgerFromSQL pulls the @StrLedgers literal back out of a rewritten query.
func ledgerFromSQL(sql string) string {
	const marker = "@StrLedgers='"
	i := strings.Index(sql, marker)
	if i < 0 {
		return ""
	}
	rest := sql[i+len(marker):]
	return rest[:strings.IndexByte(rest, '\'')]
}

// fromDateOf pulls the @FromDate literal back out of a rewritten query.
func fromDateOf(sql string) string {
	const marker = "@FromDate='"
	i := strings.Index(sql, marker)
	rest := sql[i+len(marker):]
	return rest[:strings.IndexByte(rest, '\'')]
}

func rows(ledgerID, from string, n int) ResultSet {
	set := make(ResultSet, 0, n)
	for i := 0; i < n; i++ {
		set = append(set, Record{"LedgerID": ledgerID, "FromDate": from, "Seq": i})
	}
	return set
}
