package phase

import (
	"context"
	"fmt"
	"strings"
)

// validate applies the phase-specific policy to a unit's aggregate. A false
// result carries feedback text for the retry context; it is not an error.
// The returned error is reserved for hard failures (store integrity).
func (m *Machine) validate(ctx context.Context, ph Phase, u unit, agg Aggregate) (bool, string, error) {
	switch ph {
	case Analysis:
		return m.validateAnalysis(agg)
	case Implementation:
		return m.validateImplementation(u, agg)
	case Testing:
		return m.validateTesting(u, agg)
	case Fixes:
		return m.validateFixes(ctx, agg)
	default:
		return false, fmt.Sprintf("unknown phase %d", ph), nil
	}
}

// validateAnalysis requires a non-empty plan in which every criterion is
// covered by at least one change, every change carries a description, and no
// change names a criterion outside the graph. The executor is free to
// paraphrase criterion text, so an unknown name is retry feedback here, not a
// data-integrity error downstream.
func (m *Machine) validateAnalysis(agg Aggregate) (bool, string, error) {
	if len(agg.PlannedChanges) == 0 {
		return false, "analysis produced no planned changes", nil
	}

	covered := make(map[string]bool)
	for i, change := range agg.PlannedChanges {
		if strings.TrimSpace(change.Description) == "" {
			return false, fmt.Sprintf("planned change %d has no description", i+1), nil
		}
		for _, c := range change.Criteria {
			if _, err := m.graph.Criterion(c); err != nil {
				return false, fmt.Sprintf("planned change %d names unknown criterion %q (use the acceptance criteria verbatim)", i+1, c), nil
			}
			covered[c] = true
		}
	}
	var missing []string
	for _, key := range m.graph.Keys() {
		if !covered[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("no planned change covers: %s", strings.Join(missing, "; ")), nil
	}
	return true, "", nil
}

// validateImplementation requires at least one modified file for the current
// change.
func (m *Machine) validateImplementation(u unit, agg Aggregate) (bool, string, error) {
	if len(agg.ModifiedFiles) == 0 {
		desc := "current change"
		if u.change != nil {
			desc = u.change.Description
		}
		return false, fmt.Sprintf("no files modified for %q", desc), nil
	}
	return true, "", nil
}

// validateTesting requires at least one test file for the current criterion.
func (m *Machine) validateTesting(u unit, agg Aggregate) (bool, string, error) {
	if len(agg.TestFiles) == 0 {
		return false, fmt.Sprintf("no test file recorded for criterion %q", u.criterion), nil
	}
	return true, "", nil
}

// validateFixes requires at least one recorded fix explanation and a passing
// full test run. A passing run also resolves the fixed failures in the
// history store.
func (m *Machine) validateFixes(ctx context.Context, agg Aggregate) (bool, string, error) {
	if len(agg.FixesApplied) == 0 {
		return false, "no fix explanation recorded", nil
	}

	run, err := m.tests.RunTests(ctx)
	if err != nil {
		return false, fmt.Sprintf("test run error: %v", err), nil
	}
	if !run.Passed {
		m.logEvent(ctx, "tests_failed", Fixes.String(), 0, truncate(run.RawOutput, 2000))
		return false, fmt.Sprintf("full test run failed:\n%s", truncate(run.RawOutput, 2000)), nil
	}

	for _, fix := range agg.FixesApplied {
		if fix.TestFile == "" {
			continue
		}
		if err := m.history.RecordFix(ctx, fix.TestFile, m.cfg.FixedBy, fix.Description); err != nil {
			return false, "", fmt.Errorf("resolve fix for %s: %w", fix.TestFile, err)
		}
	}
	return true, "", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
