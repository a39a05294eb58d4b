package report

import (
	"fmt"
	"sort"

	"github.com/withObsrvr/ledger-fetcher/internal/fetch"
	"github.com/withObsrvr/ledger-fetcher/internal/ledgers"
)

// ValidationResult contains the outcome of run validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// ValidateRun checks a finished run before it is published:
// - every planned ledger has exactly one outcome, and nothing else does
// - completed ledgers ran the whole chunk plan
// - failed ledgers and ledgers unknown to the metadata lookup are warnings
func ValidateRun(plan *Plan, run *fetch.Run, info map[string]ledgers.Info) ValidationResult {
	result := ValidationResult{Passed: true}

	if len(plan.LedgerIDs) == 0 {
		result.Warnings = append(result.Warnings, "run has no ledgers")
	}

	planned := make(map[string]struct{}, len(plan.LedgerIDs))
	for _, id := range plan.LedgerIDs {
		planned[id] = struct{}{}
	}

	for _, id := range sortedKeys(planned) {
		out, ok := run.Outcomes[id]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("ledger %s has no outcome", id))
			result.Passed = false
			continue
		}

		if out.Failed() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("ledger %s failed: %v", id, out.Err))
		} else if out.Chunks != len(plan.Chunks) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("ledger %s ran %d chunks, expected %d", id, out.Chunks, len(plan.Chunks)))
			result.Passed = false
		}

		if info != nil {
			if li, ok := info[id]; !ok || !li.Found() {
				result.Warnings = append(result.Warnings, fmt.Sprintf("ledger %s not found in metadata", id))
			}
		}
	}

	for id := range run.Outcomes {
		if _, ok := planned[id]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unexpected outcome for ledger %s", id))
			result.Passed = false
		}
	}

	return result
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
