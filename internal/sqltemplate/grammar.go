// Package sqltemplate finds and rewrites named parameter assignments of the
// form @Name = '<literal>' inside a shared SQL template.
package sqltemplate

import "strings"

// Parameter names bound in ledger report templates.
const (
	ParamLedgers  = "StrLedgers"
	ParamFromDate = "FromDate"
	ParamToDate   = "ToDate"
)

// Assignment locates one @Name = '<literal>' occurrence in a template.
// Start/End span the whole assignment; ValueStart/ValueEnd span the literal
// between the quotes.
type Assignment struct {
	Name       string
	Start      int
	End        int
	ValueStart int
	ValueEnd   int
}

// Value returns the literal text of the assignment within tpl.
func (a Assignment) Value(tpl string) string {
	return tpl[a.ValueStart:a.ValueEnd]
}

// Find returns the first assignment to @name in tpl.
//
// Grammar: '@' name ws* '=' ws* '\'' [^']+ '\''. The name matches
// case-insensitively and must be followed directly by whitespace or '=' so
// @FromDate never matches @FromDateTime. Empty literals do not match.
func Find(tpl, name string) (Assignment, bool) {
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '@' {
			continue
		}
		if a, ok := matchAt(tpl, i, name); ok {
			return a, true
		}
	}
	return Assignment{}, false
}

func matchAt(tpl string, at int, name string) (Assignment, bool) {
	j := at + 1
	if j+len(name) > len(tpl) || !strings.EqualFold(tpl[j:j+len(name)], name) {
		return Assignment{}, false
	}
	j = skipSpace(tpl, j+len(name))
	if j >= len(tpl) || tpl[j] != '=' {
		return Assignment{}, false
	}
	j = skipSpace(tpl, j+1)
	if j >= len(tpl) || tpl[j] != '\'' {
		return Assignment{}, false
	}
	valueStart := j + 1
	closing := strings.IndexByte(tpl[valueStart:], '\'')
	if closing <= 0 {
		return Assignment{}, false
	}
	valueEnd := valueStart + closing
	return Assignment{
		Name:       name,
		Start:      at,
		End:        valueEnd + 1,
		ValueStart: valueStart,
		ValueEnd:   valueEnd,
	}, true
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			i++
		default:
			return i
		}
	}
	return i
}
