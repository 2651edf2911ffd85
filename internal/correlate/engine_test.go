package correlate

import (
	"errors"
	"testing"
)

// fakeTracker records MarkFailed calls without a real criteria graph.
type fakeTracker struct {
	known  map[string]bool
	failed []string
}

func newFakeTracker(criteria ...string) *fakeTracker {
	known := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		known[c] = true
	}
	return &fakeTracker{known: known}
}

func (f *fakeTracker) MarkFailed(criterion, reason string, failure *FailureRecord) error {
	if !f.known[criterion] {
		return errors.New("unknown criterion")
	}
	f.failed = append(f.failed, criterion)
	return nil
}

func TestRecordFailureClassifiesAndMarks(t *testing.T) {
	tracker := newFakeTracker("parses header")
	e := NewEngine(tracker, nil)

	rec, err := e.RecordFailure("parses header", "parse_test.go", "TestParse",
		"AssertionError: expected magic bytes", "stack", []string{"parse.go"})
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if rec.Kind != KindAssertion {
		t.Errorf("Kind = %v, want %v", rec.Kind, KindAssertion)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if len(tracker.failed) != 1 || tracker.failed[0] != "parses header" {
		t.Errorf("tracker.failed = %v", tracker.failed)
	}
	history := e.FailureHistory("parses header")
	if len(history) != 1 || history[0] != rec {
		t.Errorf("FailureHistory = %v", history)
	}
}

func TestRecordFailureUnknownCriterionIndexesNothing(t *testing.T) {
	e := NewEngine(newFakeTracker(), nil)

	_, err := e.RecordFailure("ghost", "t.go", "TestX", "KeyError: 'id'", "", nil)
	if err == nil {
		t.Fatal("RecordFailure(unknown) succeeded")
	}
	if got := e.FailureHistory("ghost"); len(got) != 0 {
		t.Errorf("history after failed record = %v, want empty", got)
	}
	if got := e.SimilarFailures("other", &FailureRecord{Kind: KindKey}); len(got) != 0 {
		t.Errorf("pattern index populated after failed record: %v", got)
	}
}

func TestSimilarFailuresByPattern(t *testing.T) {
	tracker := newFakeTracker("a", "b", "c")
	e := NewEngine(tracker, nil)

	recA, _ := e.RecordFailure("a", "a_test.go", "TestA", "KeyError: 'id'", "", nil)
	recB, _ := e.RecordFailure("b", "b_test.go", "TestB", "KeyError: 'name'", "", nil)
	e.RecordFailure("c", "c_test.go", "TestC", "IndexError: out of range", "", nil)

	similar := e.SimilarFailures("a", recA)
	if len(similar) != 1 || similar[0] != recB {
		t.Fatalf("SimilarFailures = %v, want only the other key error", similar)
	}
}

func TestSimilarFailuresByTextAcrossPatterns(t *testing.T) {
	tracker := newFakeTracker("a", "b")
	e := NewEngine(tracker, nil)

	// Different classified kinds, near-identical stack traces.
	stack := "at parse line 10 at validate line 22 at main line 5"
	recA, _ := e.RecordFailure("a", "a_test.go", "TestA", "KeyError: 'id'", stack, nil)
	recB, _ := e.RecordFailure("b", "b_test.go", "TestB", "IndexError: out of range", stack, nil)

	similar := e.SimilarFailures("a", recA)
	if len(similar) != 1 || similar[0] != recB {
		t.Fatalf("SimilarFailures = %v, want the trace-similar record", similar)
	}
}

func TestSimilarFailuresExcludesSameCriterionForTextMatch(t *testing.T) {
	tracker := newFakeTracker("a", "b")
	e := NewEngine(tracker, nil)

	e.RecordFailure("a", "a_test.go", "TestA1", "KeyError: 'id'", "", nil)
	// Same criterion, identical message tokens: the text branch must not
	// pull in same-criterion records, only the shared-pattern branch may.
	e.RecordFailure("a", "a_test.go", "TestA2", "weird failure without marker", "", nil)
	recA3, _ := e.RecordFailure("a", "a_test.go", "TestA3", "weird failure without marker", "", nil)

	similar := e.SimilarFailures("a", recA3)
	if len(similar) != 1 {
		t.Fatalf("SimilarFailures = %v, want only the shared-pattern record", similar)
	}

	// Pattern sharing still applies within the same criterion.
	if similar[0].TestName != "TestA2" {
		t.Errorf("similar[0] = %v, want the other unknown-kind record", similar[0])
	}
}

func TestFailureHistoryInsertionOrder(t *testing.T) {
	tracker := newFakeTracker("a")
	e := NewEngine(tracker, nil)

	first, _ := e.RecordFailure("a", "a_test.go", "TestA", "KeyError: 'x'", "", nil)
	second, _ := e.RecordFailure("a", "a_test.go", "TestA", "KeyError: 'y'", "", nil)

	history := e.FailureHistory("a")
	if len(history) != 2 || history[0] != first || history[1] != second {
		t.Fatalf("FailureHistory order wrong: %v", history)
	}
}
