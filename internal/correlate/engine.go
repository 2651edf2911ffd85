package correlate

import (
	"fmt"
	"time"
)

// similarityThreshold is the Jaccard score above which two failures are
// considered the same underlying problem.
const similarityThreshold = 0.8

// FailureRecord is one classified test failure. Records are immutable after
// creation except for the fix-resolution fields.
type FailureRecord struct {
	Criterion     string
	TestFile      string
	TestName      string
	Kind          Kind
	Message       string
	StackTrace    string
	Timestamp     time.Time
	ModifiedFiles []string

	FixedBy        string
	FixDescription string
}

// CriterionTracker is the slice of the criteria graph the engine needs:
// marking a criterion failed with the triggering record attached.
type CriterionTracker interface {
	MarkFailed(criterion, reason string, failure *FailureRecord) error
}

// Engine classifies failures and clusters them by pattern and by text
// similarity. It is owned by one orchestrator instance per work item and is
// not safe for concurrent mutation.
type Engine struct {
	tracker CriterionTracker
	sim     Similarity

	records     []*FailureRecord // global insertion order
	byCriterion map[string][]*FailureRecord
	byKind      map[Kind][]*FailureRecord

	now func() time.Time
}

// NewEngine creates an Engine that reports failed criteria to tracker.
// A nil sim falls back to token-set Jaccard.
func NewEngine(tracker CriterionTracker, sim Similarity) *Engine {
	if sim == nil {
		sim = TokenJaccard{}
	}
	return &Engine{
		tracker:     tracker,
		sim:         sim,
		byCriterion: make(map[string][]*FailureRecord),
		byKind:      make(map[Kind][]*FailureRecord),
		now:         time.Now,
	}
}

// RecordFailure classifies and indexes a failure, marks the owning criterion
// failed with the message as reason, and returns the new record. An unknown
// criterion is reported by the tracker and nothing is indexed.
func (e *Engine) RecordFailure(criterion, testFile, testName, message, stackTrace string, modifiedFiles []string) (*FailureRecord, error) {
	rec := &FailureRecord{
		Criterion:     criterion,
		TestFile:      testFile,
		TestName:      testName,
		Kind:          Classify(message),
		Message:       message,
		StackTrace:    stackTrace,
		Timestamp:     e.now(),
		ModifiedFiles: append([]string(nil), modifiedFiles...),
	}
	if err := e.tracker.MarkFailed(criterion, message, rec); err != nil {
		return nil, fmt.Errorf("record failure for %q: %w", criterion, err)
	}
	e.records = append(e.records, rec)
	e.byCriterion[criterion] = append(e.byCriterion[criterion], rec)
	e.byKind[rec.Kind] = append(e.byKind[rec.Kind], rec)
	return rec, nil
}

// SimilarFailures returns, in insertion order, every other record that shares
// failure's classified kind, plus any record from a different criterion whose
// message or stack trace is near-identical to failure's.
func (e *Engine) SimilarFailures(criterion string, failure *FailureRecord) []*FailureRecord {
	seen := make(map[*FailureRecord]struct{})
	for _, rec := range e.byKind[failure.Kind] {
		if rec != failure {
			seen[rec] = struct{}{}
		}
	}
	for _, rec := range e.records {
		if rec == failure || rec.Criterion == criterion {
			continue
		}
		if _, ok := seen[rec]; ok {
			continue
		}
		if e.sim.Score(rec.Message, failure.Message) > similarityThreshold ||
			e.sim.Score(rec.StackTrace, failure.StackTrace) > similarityThreshold {
			seen[rec] = struct{}{}
		}
	}

	out := make([]*FailureRecord, 0, len(seen))
	for _, rec := range e.records {
		if _, ok := seen[rec]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// FailureHistory returns all records for a criterion in insertion order.
func (e *Engine) FailureHistory(criterion string) []*FailureRecord {
	return append([]*FailureRecord(nil), e.byCriterion[criterion]...)
}
