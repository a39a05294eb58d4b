package sqltemplate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TemplateError reports a missing or malformed template parameter.
type TemplateError struct {
	Param string
	Msg   string
}

func (e *TemplateError) Error() string {
	if e.Param == "" {
		return "template: " + e.Msg
	}
	return fmt.Sprintf("template @%s: %s", e.Param, e.Msg)
}

// inputLayouts are the date formats accepted in @FromDate/@ToDate literals.
var inputLayouts = []string{
	"2-Jan-2006 15:04:05",
	"2-Jan-2006",
	"2006-1-2",
	"2006-1-2 15:04:05",
}

// ExtractDates reads the @FromDate and @ToDate literals from tpl.
// Both must be present, parse with one of the accepted layouts, and satisfy
// from <= to.
func ExtractDates(tpl string) (time.Time, time.Time, error) {
	fromA, fromOK := Find(tpl, ParamFromDate)
	toA, toOK := Find(tpl, ParamToDate)
	if !fromOK || !toOK {
		var missing []string
		if !fromOK {
			missing = append(missing, "@"+ParamFromDate)
		}
		if !toOK {
			missing = append(missing, "@"+ParamToDate)
		}
		return time.Time{}, time.Time{}, &TemplateError{Msg: "missing " + strings.Join(missing, " and ")}
	}

	from, err := ParseDate(fromA.Value(tpl))
	if err != nil {
		return time.Time{}, time.Time{}, &TemplateError{Param: ParamFromDate, Msg: err.Error()}
	}
	to, err := ParseDate(toA.Value(tpl))
	if err != nil {
		return time.Time{}, time.Time{}, &TemplateError{Param: ParamToDate, Msg: err.Error()}
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, &TemplateError{
			Msg: fmt.Sprintf("@%s (%s) is after @%s (%s)", ParamFromDate, from.Format(time.DateTime), ParamToDate, to.Format(time.DateTime)),
		}
	}

	slog.Debug("extracted date range", "from", from, "to", to)
	return from, to, nil
}

// ParseDate parses a date in any layout accepted for @FromDate/@ToDate.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ExtractLedgers splits the @StrLedgers literal on commas. Blank entries are
// dropped. Non-numeric ids fail with a *TemplateError when strict, otherwise
// they are logged and filtered out. An absent parameter yields no ids.
func ExtractLedgers(tpl string, strict bool) ([]string, error) {
	a, ok := Find(tpl, ParamLedgers)
	if !ok {
		slog.Warn("@StrLedgers parameter not found in template")
		return nil, nil
	}

	var ledgers, invalid []string
	for _, entry := range strings.Split(a.Value(tpl), ",") {
		id := strings.TrimSpace(entry)
		if id == "" {
			continue
		}
		if !isDigits(id) {
			invalid = append(invalid, id)
			continue
		}
		ledgers = append(ledgers, id)
	}

	if len(invalid) > 0 {
		if strict {
			return nil, &TemplateError{Param: ParamLedgers, Msg: fmt.Sprintf("non-numeric ledger ids %v", invalid)}
		}
		slog.Warn("dropping non-numeric ledger ids", "invalid", invalid)
	}
	return ledgers, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
