package ledgers

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/ledger-fetcher/internal/connstr"
)

const testConnString = "Server=db1;Database=erp;User Id=admin;Password=secret"

type fakeStore struct {
	rows   []Row
	err    error
	asked  []int64
	closed bool
}

func (s *fakeStore) Rows(ctx context.Context, ids []int64) ([]Row, error) {
	s.asked = ids
	return s.rows, s.err
}

func (s *fakeStore) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	store  *fakeStore
	err    error
	opened int
	cfg    connstr.Config
}

func (o *fakeOpener) Open(ctx context.Context, cfg connstr.Config) (Store, error) {
	o.opened++
	o.cfg = cfg
	if o.err != nil {
		return nil, o.err
	}
	return o.store, nil
}

func TestLookup(t *testing.T) {
	store := &fakeStore{rows: []Row{
		{LedgerID: 101, Code: "CASH", Name: "Cash in hand", CompanyName: sql.NullString{String: "Acme", Valid: true}},
		{LedgerID: 205, Code: "BANK", Name: "QNB Current"},
	}}
	opener := &fakeOpener{store: store}

	meta, err := Lookup(context.Background(), opener, testConnString, []string{"101", " 205", "999"})
	require.NoError(t, err)

	assert.Equal(t, []int64{101, 205, 999}, store.asked)
	assert.True(t, store.closed)
	assert.Equal(t, "erp", opener.cfg.Database)

	require.Len(t, meta, 3)
	assert.Equal(t, Info{Code: "CASH", Name: "Cash in hand", CompanyName: "Acme"}, meta["101"])
	assert.Equal(t, "", meta["205"].CompanyAddress)
	assert.True(t, meta["205"].Found())
	assert.False(t, meta["999"].Found())
}

func TestLookup_NoIDs(t *testing.T) {
	opener := &fakeOpener{}

	meta, err := Lookup(context.Background(), opener, "garbage", nil)

	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Zero(t, opener.opened)
}

func TestLookup_ConfigurationErrorIsImmediate(t *testing.T) {
	opener := &fakeOpener{}

	_, err := Lookup(context.Background(), opener, "Server=db1", []string{"1"})

	var cfgErr *connstr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ElementsMatch(t, []string{connstr.FieldDatabase, connstr.FieldUser, connstr.FieldPassword}, cfgErr.Missing)
	assert.Zero(t, opener.opened)
}

func TestLookup_NonNumericID(t *testing.T) {
	opener := &fakeOpener{}

	_, err := Lookup(context.Background(), opener, testConnString, []string{"1", "abc"})

	assert.ErrorContains(t, err, `"abc"`)
	assert.Zero(t, opener.opened)
}

func TestLookup_StoreErrors(t *testing.T) {
	boom := errors.New("login failed")

	_, err := Lookup(context.Background(), &fakeOpener{err: boom}, testConnString, []string{"1"})
	assert.ErrorIs(t, err, boom)

	store := &fakeStore{err: boom}
	_, err = Lookup(context.Background(), &fakeOpener{store: store}, testConnString, []string{"1"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, store.closed)
}

func TestBuildQuery(t *testing.T) {
	query, args := buildQuery([]int64{7, 8, 9})

	assert.Contains(t, query, "WHERE d.Alm_ID_N IN (@p1,@p2,@p3)")
	assert.Equal(t, []any{int64(7), int64(8), int64(9)}, args)
}
