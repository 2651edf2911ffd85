package phase

import (
	"context"
	"fmt"
	"strings"
)

// historyDepth is how many recent runs per test file feed the context.
const historyDepth = 3

// buildContext renders the snapshot handed to the phase executor: the task,
// the criteria with their statuses and artifacts, the current unit of work,
// recent test history, similar failures, and, on retry, the last problem.
func (m *Machine) buildContext(ctx context.Context, ph Phase, u unit, ps *PhaseState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task\n%s\n\n", m.cfg.Task)

	b.WriteString("# Acceptance criteria\n")
	for _, key := range m.graph.Keys() {
		c, err := m.graph.Criterion(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", c.Status, key)
		if c.Reason != "" {
			fmt.Fprintf(&b, "  reason: %s\n", c.Reason)
		}
		if blocking, err := m.graph.BlockingCriteria(key); err == nil && len(blocking) > 0 {
			fmt.Fprintf(&b, "  blocked by: %s\n", strings.Join(blocking, ", "))
		}
		if len(c.ImplementationFiles) > 0 {
			fmt.Fprintf(&b, "  implementation: %s\n", strings.Join(c.ImplementationFiles, ", "))
		}
		if len(c.TestFiles) > 0 {
			fmt.Fprintf(&b, "  tests: %s\n", strings.Join(c.TestFiles, ", "))
		}
	}

	fmt.Fprintf(&b, "\n# Phase\n%s\n", ph)

	if u.change != nil {
		fmt.Fprintf(&b, "\n# Current change\n%s\n", u.change.Description)
		if len(u.change.Criteria) > 0 {
			fmt.Fprintf(&b, "covers: %s\n", strings.Join(u.change.Criteria, ", "))
		}
	}
	if u.criterion != "" {
		fmt.Fprintf(&b, "\n# Current criterion\n%s\n", u.criterion)
		m.writeFailureContext(&b, u.criterion)
	}

	m.writeTestHistory(ctx, &b, ph, u)

	if ps.Attempts > 0 {
		fmt.Fprintf(&b, "\n# Previous attempt (%d of %d)\n", ps.Attempts, m.cfg.MaxRetries)
		if ps.LastError != "" {
			fmt.Fprintf(&b, "error: %s\n", ps.LastError)
		}
		if ps.LastFeedback != "" {
			fmt.Fprintf(&b, "feedback: %s\n", ps.LastFeedback)
		}
	}

	return b.String()
}

// writeFailureContext adds the criterion's current failure and any similar
// failures seen elsewhere, so recovery attempts see the cluster, not just
// the one symptom.
func (m *Machine) writeFailureContext(b *strings.Builder, criterion string) {
	c, err := m.graph.Criterion(criterion)
	if err != nil || c.CurrentFailure == nil {
		return
	}
	f := c.CurrentFailure
	fmt.Fprintf(b, "current failure: %s (%s in %s)\n", f.Message, f.Kind, f.TestFile)

	similar := m.engine.SimilarFailures(criterion, f)
	if len(similar) == 0 {
		return
	}
	b.WriteString("similar failures:\n")
	for _, s := range similar {
		fmt.Fprintf(b, "- %s: %s", s.TestFile, s.Message)
		if s.FixDescription != "" {
			fmt.Fprintf(b, " (fixed: %s)", s.FixDescription)
		}
		b.WriteString("\n")
	}
}

// writeTestHistory adds compact recent-run summaries for the test files in
// scope. Lookups are best effort; a store error just drops the section.
func (m *Machine) writeTestHistory(ctx context.Context, b *strings.Builder, ph Phase, u unit) {
	files := m.historyFiles(ph, u)
	if len(files) == 0 {
		return
	}

	wroteHeader := false
	for _, file := range files {
		summaries, err := m.history.TestSummary(ctx, file, historyDepth)
		if err != nil || len(summaries) == 0 {
			continue
		}
		if !wroteHeader {
			b.WriteString("\n# Recent test history\n")
			wroteHeader = true
		}
		fmt.Fprintf(b, "%s:\n", file)
		for _, s := range summaries {
			fmt.Fprintf(b, "- %s %s", s.Timestamp, s.Status)
			if s.ErrorKind != "" {
				fmt.Fprintf(b, " (%s)", s.ErrorKind)
			}
			if len(s.ModifiedFiles) > 0 {
				fmt.Fprintf(b, " touched %s", strings.Join(s.ModifiedFiles, ", "))
			}
			b.WriteString("\n")
		}
	}
}

// historyFiles picks which test files are worth summarising for a phase:
// the current criterion's during testing, everything during fixes.
func (m *Machine) historyFiles(ph Phase, u unit) []string {
	switch ph {
	case Testing:
		if u.criterion == "" {
			return nil
		}
		c, err := m.graph.Criterion(u.criterion)
		if err != nil {
			return nil
		}
		return c.TestFiles
	case Fixes:
		var files []string
		for _, key := range m.graph.Keys() {
			c, err := m.graph.Criterion(key)
			if err != nil {
				continue
			}
			files = append(files, c.TestFiles...)
		}
		return files
	default:
		return nil
	}
}

// abandonReason scans the response for the abandonment marker. The marker
// must start a line; the rest of that line is the reason.
func (m *Machine) abandonReason(response string) (string, bool) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, m.cfg.AbandonMarker) {
			reason := strings.TrimSpace(strings.TrimPrefix(line, m.cfg.AbandonMarker))
			if reason == "" {
				reason = "abandoned without a stated reason"
			}
			return reason, true
		}
	}
	return "", false
}
