package export

import (
	"fmt"
	"regexp"

	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
)

// VoucherColumn is the column scanned for balance marker rows.
const VoucherColumn = "Voucher Number"

var (
	openingRe = regexp.MustCompile(`(?i)opening\s*balance`)
	closingRe = regexp.MustCompile(`(?i)closing\s*balance`)
)

// CollapseBalances keeps only the first opening-balance row and the last
// closing-balance row of a chunked ledger, since every chunk query reports its
// own pair. The opening row leads, the closing row trails and every other row
// keeps its position. A result without the voucher column is returned as is.
func CollapseBalances(rows fetch.FetchResult) fetch.FetchResult {
	if len(rows) == 0 || !hasColumn(rows, VoucherColumn) {
		return rows
	}

	var opening, closing fetch.Record
	middle := make(fetch.FetchResult, 0, len(rows))
	for _, rec := range rows {
		v, ok := voucher(rec)
		isOpening := ok && openingRe.MatchString(v)
		isClosing := ok && closingRe.MatchString(v)
		switch {
		case isOpening || isClosing:
			if isOpening && opening == nil {
				opening = rec
			}
			if isClosing {
				closing = rec
			}
		default:
			middle = append(middle, rec)
		}
	}

	out := make(fetch.FetchResult, 0, len(middle)+2)
	if opening != nil {
		out = append(out, opening)
	}
	out = append(out, middle...)
	if closing != nil {
		out = append(out, closing)
	}
	return out
}

func hasColumn(rows fetch.FetchResult, col string) bool {
	for _, rec := range rows {
		if _, ok := rec[col]; ok {
			return true
		}
	}
	return false
}

func voucher(rec fetch.Record) (string, bool) {
	v, ok := rec[VoucherColumn]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}
