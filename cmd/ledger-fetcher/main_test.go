package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliTemplate = "EXEC dbo.usp_LedgerReport @StrLedgers='101,205', @FromDate='15-Jan-2024', @ToDate='20-Mar-2024'"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LEDGER_FETCHER_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := runCLI(t, "plan", "--template", cliTemplate)
	require.NoError(t, err)

	assert.Contains(t, out, "window:  2024-01-15 00:00:00 -> 2024-03-20 00:00:00")
	assert.Contains(t, out, "ledgers: 2 [101 205]")
	assert.Contains(t, out, "chunks:  3")
	assert.NotContains(t, out, "SET NOCOUNT ON")
}

func TestPlanCommand_SQLAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sql")
	require.NoError(t, os.WriteFile(path, []byte(cliTemplate), 0644))

	out, err := runCLI(t, "plan", "--template-file", path, "--ledgers", "7", "--to", "2024-02-10", "--sql")
	require.NoError(t, err)

	assert.Contains(t, out, "chunks:  1")
	assert.Equal(t, 1, strings.Count(out, "SET NOCOUNT ON;"))
	assert.Contains(t, out, "@StrLedgers='7'")
	assert.Contains(t, out, "@FromDate='15-Jan-2024 00:00:00'")
	assert.Contains(t, out, "@ToDate='10-Feb-2024 00:00:00'")
}

func TestPlanCommand_Errors(t *testing.T) {
	_, err := runCLI(t, "plan")
	assert.Error(t, err, "a template is required")

	_, err = runCLI(t, "plan", "--template", cliTemplate, "--from", "yesterday")
	assert.ErrorContains(t, err, "--from")

	_, err = runCLI(t, "plan", "--template", "EXEC x @StrLedgers='1'")
	assert.ErrorContains(t, err, "missing @FromDate and @ToDate")
}

func TestFetchCommand_NoConnection(t *testing.T) {
	t.Setenv("SQL_CONN_STRING", "")
	t.Setenv("SECRETS_URL_TEMPLATE", "")
	t.Setenv("EXPORT_BUCKET_URL", "")
	t.Setenv("CATALOG_DSN", "")

	_, err := runCLI(t, "fetch", "--template", cliTemplate)
	assert.ErrorContains(t, err, "no connection string")
}

func TestPlanCommand_NoLedgers(t *testing.T) {
	_, err := runCLI(t, "plan", "--template", "EXEC dbo.usp_LedgerReport @FromDate='01-Jan-2024', @ToDate='31-Jan-2024'")
	assert.ErrorContains(t, err, "no ledger ids requested")
}

func TestPlanCommand_LedgerOverrideTrimmed(t *testing.T) {
	out, err := runCLI(t, "plan", "--template", cliTemplate, "--ledgers", "101, 202,")
	require.NoError(t, err)
	assert.Contains(t, out, "ledgers: 2 [101 202]")
}
