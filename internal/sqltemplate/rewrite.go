package sqltemplate

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/ledger-fetcher/internal/chunk"
)

// DateLayout is the literal format written into @FromDate/@ToDate.
const DateLayout = "02-Jan-2006 15:04:05"

// NoCountPrefix suppresses row-count messages so the first result set the
// driver sees is data, not DONE_IN_PROC noise.
const NoCountPrefix = "SET NOCOUNT ON;\n"

// Substitution records what happened to one parameter during a rewrite.
type Substitution struct {
	Param string
	Found bool
	Old   string
	New   string
}

// Query is a rewritten template ready for execution.
type Query struct {
	SQL           string
	Substitutions []Substitution
}

// Skipped returns the parameters that were absent from the template.
func (q Query) Skipped() []string {
	var out []string
	for _, s := range q.Substitutions {
		if !s.Found {
			out = append(out, s.Param)
		}
	}
	return out
}

// Rewriter binds a ledger id and chunk bounds into a template.
type Rewriter struct {
	template string
	log      *slog.Logger
}

// NewRewriter creates a rewriter for tpl.
func NewRewriter(tpl string, log *slog.Logger) *Rewriter {
	if log == nil {
		log = slog.With("component", "sqltemplate")
	}
	return &Rewriter{template: tpl, log: log}
}

// Rewrite replaces the first @StrLedgers, @FromDate and @ToDate literals with
// the ledger id and chunk bounds, leaving every other byte of the template
// untouched, and prepends NoCountPrefix.
//
// A parameter missing from the template is skipped and reported in
// Query.Substitutions; it is not an error.
func (r *Rewriter) Rewrite(ledgerID string, c chunk.Chunk) Query {
	q := Substitute(r.template, map[string]string{
		ParamLedgers:  ledgerID,
		ParamFromDate: FormatDate(c.Start),
		ParamToDate:   FormatDate(c.End),
	})
	if skipped := q.Skipped(); len(skipped) > 0 {
		r.log.Warn("template parameters not found, substitution skipped",
			"ledger_id", ledgerID, "chunk", c.String(), "params", skipped)
	}
	q.SQL = NoCountPrefix + q.SQL
	return q
}

// FormatDate renders t as DD-Mon-YYYY HH:MM:SS.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Substitute replaces the literal of the first assignment to each named
// parameter in values. Parameters are reported in sorted name order.
func Substitute(tpl string, values map[string]string) Query {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var found []Assignment
	subs := make([]Substitution, 0, len(names))
	for _, name := range names {
		a, ok := Find(tpl, name)
		sub := Substitution{Param: name, Found: ok, New: values[name]}
		if ok {
			sub.Old = a.Value(tpl)
			found = append(found, a)
		}
		subs = append(subs, sub)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ValueStart < found[j].ValueStart })

	var b strings.Builder
	b.Grow(len(tpl))
	last := 0
	for _, a := range found {
		if a.Start < last {
			continue
		}
		b.WriteString(tpl[last:a.ValueStart])
		b.WriteString(escapeLiteral(values[a.Name]))
		last = a.ValueEnd
	}
	b.WriteString(tpl[last:])

	return Query{SQL: b.String(), Substitutions: subs}
}

func escapeLiteral(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
