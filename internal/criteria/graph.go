// Package criteria tracks the acceptance criteria of one work item: their
// lifecycle status, artifacts, and dependency partial order.
package criteria

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/specforge/internal/correlate"
)

var (
	// ErrUnknownCriterion is returned when an operation names a criterion
	// that was never added. This is a usage error, never retried.
	ErrUnknownCriterion = errors.New("unknown criterion")
	// ErrDuplicateCriterion is returned by Add for an existing criterion.
	ErrDuplicateCriterion = errors.New("criterion already exists")
)

// Status is the lifecycle state of a criterion.
type Status int

const (
	NotStarted Status = iota
	InProgress
	Verified
	Failed
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Criterion is one acceptance requirement, keyed by its text. Created by
// Graph.Add and mutated only through Graph methods, never deleted mid-run.
type Criterion struct {
	Text                string
	Status              Status
	Reason              string
	TestFiles           []string
	ImplementationFiles []string
	Deps                map[string]struct{}
	Failures            []*correlate.FailureRecord
	CurrentFailure      *correlate.FailureRecord
}

// Graph holds the criteria of one work item. It is owned by a single
// orchestrator instance and is not safe for concurrent mutation.
type Graph struct {
	criteria map[string]*Criterion
	order    []string // insertion order, for deterministic iteration
}

func New() *Graph {
	return &Graph{criteria: make(map[string]*Criterion)}
}

// Add registers a new criterion with optional initial dependencies. The
// criterion must not already exist and every dependency must.
func (g *Graph) Add(text string, deps ...string) error {
	if _, ok := g.criteria[text]; ok {
		return fmt.Errorf("add %q: %w", text, ErrDuplicateCriterion)
	}
	for _, dep := range deps {
		if _, ok := g.criteria[dep]; !ok {
			return fmt.Errorf("add %q: dependency %q: %w", text, dep, ErrUnknownCriterion)
		}
	}
	c := &Criterion{Text: text, Deps: make(map[string]struct{})}
	for _, dep := range deps {
		c.Deps[dep] = struct{}{}
	}
	g.criteria[text] = c
	g.order = append(g.order, text)
	return nil
}

// UpdateStatus sets a criterion's status and reason. Setting Verified clears
// the current failure; a criterion is never Verified with one attached.
func (g *Graph) UpdateStatus(text string, status Status, reason string) error {
	c, ok := g.criteria[text]
	if !ok {
		return fmt.Errorf("update status of %q: %w", text, ErrUnknownCriterion)
	}
	c.Status = status
	c.Reason = reason
	if status == Verified {
		c.CurrentFailure = nil
	}
	return nil
}

// MarkFailed sets a criterion failed with the triggering failure record.
// It satisfies correlate.CriterionTracker.
func (g *Graph) MarkFailed(text, reason string, failure *correlate.FailureRecord) error {
	c, ok := g.criteria[text]
	if !ok {
		return fmt.Errorf("mark %q failed: %w", text, ErrUnknownCriterion)
	}
	c.Status = Failed
	c.Reason = reason
	if failure != nil {
		c.Failures = append(c.Failures, failure)
		c.CurrentFailure = failure
	}
	return nil
}

// MarkAllFailed fails every criterion with the same reason. Used on
// abandonment and permanent failure, where no per-test record exists.
func (g *Graph) MarkAllFailed(reason string) {
	for _, text := range g.order {
		c := g.criteria[text]
		c.Status = Failed
		c.Reason = reason
	}
}

// AddTestFile attaches a test-artifact identifier to a criterion.
func (g *Graph) AddTestFile(text, file string) error {
	c, ok := g.criteria[text]
	if !ok {
		return fmt.Errorf("add test file to %q: %w", text, ErrUnknownCriterion)
	}
	c.TestFiles = appendUnique(c.TestFiles, file)
	return nil
}

// AddImplementationFile attaches an implementation-artifact identifier.
func (g *Graph) AddImplementationFile(text, file string) error {
	c, ok := g.criteria[text]
	if !ok {
		return fmt.Errorf("add implementation file to %q: %w", text, ErrUnknownCriterion)
	}
	c.ImplementationFiles = appendUnique(c.ImplementationFiles, file)
	return nil
}

// AddDependency records that text depends on dep. Both must exist.
func (g *Graph) AddDependency(text, dep string) error {
	c, ok := g.criteria[text]
	if !ok {
		return fmt.Errorf("add dependency to %q: %w", text, ErrUnknownCriterion)
	}
	if _, ok := g.criteria[dep]; !ok {
		return fmt.Errorf("add dependency %q: %w", dep, ErrUnknownCriterion)
	}
	c.Deps[dep] = struct{}{}
	return nil
}

// Dependencies returns the transitive closure of a criterion's dependencies
// via breadth-first traversal, deduplicated, in no particular order.
func (g *Graph) Dependencies(text string) ([]string, error) {
	c, ok := g.criteria[text]
	if !ok {
		return nil, fmt.Errorf("dependencies of %q: %w", text, ErrUnknownCriterion)
	}
	seen := make(map[string]struct{})
	var out []string
	queue := depKeys(c)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
		if dc, ok := g.criteria[key]; ok {
			queue = append(queue, depKeys(dc)...)
		}
	}
	return out, nil
}

// BlockingCriteria returns the direct dependencies of text whose status is
// not Verified, in graph insertion order.
func (g *Graph) BlockingCriteria(text string) ([]string, error) {
	c, ok := g.criteria[text]
	if !ok {
		return nil, fmt.Errorf("blocking criteria of %q: %w", text, ErrUnknownCriterion)
	}
	var out []string
	for _, key := range g.order {
		if _, dep := c.Deps[key]; !dep {
			continue
		}
		if g.criteria[key].Status != Verified {
			out = append(out, key)
		}
	}
	return out, nil
}

// DependentCriteria returns the criteria that directly depend on text, in
// graph insertion order.
func (g *Graph) DependentCriteria(text string) ([]string, error) {
	if _, ok := g.criteria[text]; !ok {
		return nil, fmt.Errorf("dependents of %q: %w", text, ErrUnknownCriterion)
	}
	var out []string
	for _, key := range g.order {
		if _, dep := g.criteria[key].Deps[text]; dep {
			out = append(out, key)
		}
	}
	return out, nil
}

// Unverified returns every criterion whose status is not Verified, in
// insertion order.
func (g *Graph) Unverified() []string {
	var out []string
	for _, key := range g.order {
		if g.criteria[key].Status != Verified {
			out = append(out, key)
		}
	}
	return out
}

// VerifyTestCoverage reports whether every criterion has at least one test
// artifact attached.
func (g *Graph) VerifyTestCoverage() bool {
	for _, key := range g.order {
		if len(g.criteria[key].TestFiles) == 0 {
			return false
		}
	}
	return true
}

// CriterionByTestFile finds the criterion that owns a test artifact. Used to
// attribute a test failure back to its criterion.
func (g *Graph) CriterionByTestFile(file string) (string, bool) {
	for _, key := range g.order {
		for _, f := range g.criteria[key].TestFiles {
			if f == file {
				return key, true
			}
		}
	}
	return "", false
}

// Criterion returns the live criterion for text.
func (g *Graph) Criterion(text string) (*Criterion, error) {
	c, ok := g.criteria[text]
	if !ok {
		return nil, fmt.Errorf("criterion %q: %w", text, ErrUnknownCriterion)
	}
	return c, nil
}

// Keys returns all criterion keys in insertion order.
func (g *Graph) Keys() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of criteria.
func (g *Graph) Len() int { return len(g.order) }

// ReportEntry is the external status view of one criterion.
type ReportEntry struct {
	Status              string                   `json:"status"`
	Reason              string                   `json:"reason,omitempty"`
	TestFiles           []string                 `json:"test_files,omitempty"`
	ImplementationFiles []string                 `json:"implementation_files,omitempty"`
	LastFailure         *correlate.FailureRecord `json:"last_failure,omitempty"`
}

// Report returns the criterion status report keyed by criterion text.
func (g *Graph) Report() map[string]ReportEntry {
	out := make(map[string]ReportEntry, len(g.order))
	for _, key := range g.order {
		c := g.criteria[key]
		out[key] = ReportEntry{
			Status:              c.Status.String(),
			Reason:              c.Reason,
			TestFiles:           append([]string(nil), c.TestFiles...),
			ImplementationFiles: append([]string(nil), c.ImplementationFiles...),
			LastFailure:         c.CurrentFailure,
		}
	}
	return out
}

func depKeys(c *Criterion) []string {
	out := make([]string, 0, len(c.Deps))
	for key := range c.Deps {
		out = append(out, key)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
