// Package phase drives one work item through the four ordered phases of
// implementation: analysis, implementation, testing, fixes.
package phase

// Phase is one ordered stage of implementing a work item.
type Phase int

const (
	Analysis Phase = iota
	Implementation
	Testing
	Fixes
)

// phaseOrder is the fixed execution order for a work item.
var phaseOrder = [...]Phase{Analysis, Implementation, Testing, Fixes}

func (p Phase) String() string {
	switch p {
	case Analysis:
		return "analysis"
	case Implementation:
		return "implementation"
	case Testing:
		return "testing"
	case Fixes:
		return "fixes"
	default:
		return "unknown"
	}
}

// PhaseState is the live state of one phase attempt loop. Attempts reset to
// zero when a phase unit is entered.
type PhaseState struct {
	Phase        Phase
	Attempts     int
	LastError    string
	LastFeedback string
}

// lastProblem is whichever of error or feedback the most recent attempt left.
func (ps *PhaseState) lastProblem() string {
	if ps.LastError != "" {
		return ps.LastError
	}
	if ps.LastFeedback != "" {
		return ps.LastFeedback
	}
	return "no detail recorded"
}

// PlannedChange is one change the analysis phase commits to making.
type PlannedChange struct {
	Description string   `json:"description"`
	Criteria    []string `json:"criteria"`
}

// Fix is one applied fix explanation from the fixes phase.
type Fix struct {
	TestFile    string `json:"test_file,omitempty"`
	Description string `json:"description"`
}

// Aggregate collects the results of one phase's successful tool invocations.
type Aggregate struct {
	PlannedChanges []PlannedChange `json:"planned_changes,omitempty"`
	ModifiedFiles  []string        `json:"modified_files,omitempty"`
	TestFiles      []string        `json:"test_files,omitempty"`
	FixesApplied   []Fix           `json:"fixes_applied,omitempty"`
	CommitMessage  string          `json:"commit_message,omitempty"`
}

func (a *Aggregate) merge(other Aggregate) {
	a.PlannedChanges = append(a.PlannedChanges, other.PlannedChanges...)
	a.ModifiedFiles = append(a.ModifiedFiles, other.ModifiedFiles...)
	a.TestFiles = append(a.TestFiles, other.TestFiles...)
	a.FixesApplied = append(a.FixesApplied, other.FixesApplied...)
	if other.CommitMessage != "" {
		a.CommitMessage = other.CommitMessage
	}
}

// unit is the current piece of work inside a phase: a planned change during
// implementation, a criterion during testing, nothing otherwise.
type unit struct {
	criterion string
	change    *PlannedChange
}

// stepResult is the three-way outcome of one phase step, pattern-matched by
// the driver loop instead of flowing through error values.
type stepKind int

const (
	stepAdvance stepKind = iota
	stepAbandon
	stepTerminal
)

type stepResult struct {
	kind     stepKind
	agg      Aggregate
	attempts int
	reason   string
}

// RunReport is the outcome of a whole work-item run.
type RunReport struct {
	Success  bool   `json:"success"`
	Phase    string `json:"phase,omitempty"`  // phase the run stopped in, when it failed
	Reason   string `json:"reason,omitempty"` // abandonment or failure reason
	Attempts int    `json:"attempts"`         // total attempts across all phases
}
