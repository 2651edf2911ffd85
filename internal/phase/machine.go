package phase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/specforge/internal/correlate"
	"github.com/lucasnoah/specforge/internal/criteria"
	"github.com/lucasnoah/specforge/internal/executor"
	"github.com/lucasnoah/specforge/internal/history"
	"github.com/lucasnoah/specforge/internal/runstore"
)

// Config controls one work-item run.
type Config struct {
	WorkItem      string
	Task          string
	MaxRetries    int    // per phase unit; default 3
	AbandonMarker string // line prefix; default "ABANDON:"
	FixedBy       string // author recorded on resolved fixes; default "fixes-phase"
}

// Deps are the machine's collaborators. History, Phases, Tools, and Tests
// are required; Runs, Progress, and Similarity are optional.
type Deps struct {
	History    history.Store
	Runs       *runstore.Store
	Phases     executor.PhaseExecutor
	Tools      executor.ToolExecutor
	Tests      executor.TestRunner
	Progress   io.Writer
	Similarity correlate.Similarity
}

// Machine drives one work item through the ordered phases. One instance per
// work item; it owns the criteria graph and correlation engine exclusively
// and is not safe for concurrent use.
type Machine struct {
	cfg     Config
	graph   *criteria.Graph
	engine  *correlate.Engine
	history history.Store
	runs    *runstore.Store
	phases  executor.PhaseExecutor
	tools   executor.ToolExecutor
	tests   executor.TestRunner
	out     io.Writer

	planned []PlannedChange // analysis output, drives implementation units
}

// New creates a Machine for one work item with the given immutable criteria
// list.
func New(cfg Config, criteriaList []string, deps Deps) (*Machine, error) {
	if cfg.WorkItem == "" {
		return nil, errors.New("work item id is required")
	}
	if len(criteriaList) == 0 {
		return nil, errors.New("at least one acceptance criterion is required")
	}
	if deps.History == nil || deps.Phases == nil || deps.Tools == nil || deps.Tests == nil {
		return nil, errors.New("history store, phase executor, tool executor, and test runner are required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.AbandonMarker == "" {
		cfg.AbandonMarker = "ABANDON:"
	}
	if cfg.FixedBy == "" {
		cfg.FixedBy = "fixes-phase"
	}

	graph := criteria.New()
	for _, c := range criteriaList {
		if err := graph.Add(c); err != nil {
			return nil, err
		}
	}

	return &Machine{
		cfg:     cfg,
		graph:   graph,
		engine:  correlate.NewEngine(graph, deps.Similarity),
		history: deps.History,
		runs:    deps.Runs,
		phases:  deps.Phases,
		tools:   deps.Tools,
		tests:   deps.Tests,
		out:     deps.Progress,
	}, nil
}

// Graph exposes the criteria graph for dependency edits before Run and for
// post-run status queries.
func (m *Machine) Graph() *criteria.Graph { return m.graph }

// Engine exposes the failure correlation engine for post-run queries.
func (m *Machine) Engine() *correlate.Engine { return m.engine }

// Run drives the work item to completion or controlled failure. The boolean
// is the single user-visible outcome; detail is recoverable from the graph,
// the engine, and the history store. Errors are reserved for hard failures:
// storage integrity, cancellation, usage errors.
func (m *Machine) Run(ctx context.Context) (bool, error) {
	m.logf("run %s: starting (%d criteria)", m.cfg.WorkItem, m.graph.Len())
	m.logEvent(ctx, "run_started", "", 0, m.cfg.Task)
	m.initRun()

	report := RunReport{}
	for _, ph := range phaseOrder {
		m.logf("run %s: phase %s", m.cfg.WorkItem, ph)
		m.updateRun(func(rs *runstore.RunState) {
			rs.Status = "running"
			rs.CurrentPhase = ph.String()
			rs.CurrentAttempt = 0
		})

		res, err := m.runPhase(ctx, ph)
		if err != nil {
			return false, err
		}
		report.Attempts += res.attempts

		switch res.kind {
		case stepAdvance:
			m.logEvent(ctx, "phase_completed", ph.String(), res.attempts, "")
			m.recordPhaseHistory(ph, res.attempts, "advanced")

		case stepAbandon:
			m.logf("run %s: abandoned in %s: %s", m.cfg.WorkItem, ph, res.reason)
			m.graph.MarkAllFailed(res.reason)
			m.logEvent(ctx, "run_abandoned", ph.String(), res.attempts, res.reason)
			m.recordPhaseHistory(ph, res.attempts, "abandoned")
			report.Phase = ph.String()
			report.Reason = res.reason
			m.finishRun("abandoned", res.reason, report)
			return false, nil

		case stepTerminal:
			m.logf("run %s: permanent failure in %s: %s", m.cfg.WorkItem, ph, res.reason)
			m.graph.MarkAllFailed(res.reason)
			m.logEvent(ctx, "run_failed", ph.String(), res.attempts, res.reason)
			m.recordPhaseHistory(ph, res.attempts, "failed")
			report.Phase = ph.String()
			report.Reason = res.reason
			m.finishRun("failed", res.reason, report)
			return false, nil
		}
	}

	// The fixes phase validated against a passing full test run; everything
	// still unverified is verified by that run.
	for _, key := range m.graph.Unverified() {
		if err := m.graph.UpdateStatus(key, criteria.Verified, "full test run passed"); err != nil {
			return false, err
		}
	}

	report.Success = true
	m.logf("run %s: succeeded", m.cfg.WorkItem)
	m.logEvent(ctx, "run_succeeded", "", report.Attempts, "")
	m.finishRun("succeeded", "", report)
	return true, nil
}

// runPhase executes every unit of a phase in order. The first non-advance
// unit result aborts the phase.
func (m *Machine) runPhase(ctx context.Context, ph Phase) (stepResult, error) {
	var agg Aggregate
	total := 0
	for _, u := range m.unitsFor(ph) {
		res, err := m.runUnit(ctx, ph, u)
		if err != nil {
			return stepResult{}, err
		}
		total += res.attempts
		if res.kind != stepAdvance {
			res.attempts = total
			return res, nil
		}
		agg.merge(res.agg)
	}
	if ph == Analysis {
		m.planned = agg.PlannedChanges
	}
	return stepResult{kind: stepAdvance, agg: agg, attempts: total}, nil
}

// unitsFor returns the pieces of work a phase processes one at a time:
// analysis and fixes run once, implementation runs per planned change,
// testing runs per criterion.
func (m *Machine) unitsFor(ph Phase) []unit {
	switch ph {
	case Implementation:
		if len(m.planned) == 0 {
			return []unit{{}}
		}
		units := make([]unit, len(m.planned))
		for i := range m.planned {
			units[i] = unit{change: &m.planned[i]}
		}
		return units
	case Testing:
		keys := m.graph.Keys()
		units := make([]unit, len(keys))
		for i, key := range keys {
			units[i] = unit{criterion: key}
		}
		return units
	default:
		return []unit{{}}
	}
}

// runUnit is the per-unit attempt loop: build context, consult the phase
// executor, check for abandonment, submit tool invocations, validate. Tool
// failures and validation failures are contained here and retried; only
// abandonment and budget exhaustion escape.
func (m *Machine) runUnit(ctx context.Context, ph Phase, u unit) (stepResult, error) {
	m.markInProgress(ph, u)

	ps := PhaseState{Phase: ph}
	for {
		if ps.Attempts >= m.cfg.MaxRetries {
			reason := fmt.Sprintf("%s phase failed after %d attempts: %s", ph, ps.Attempts, ps.lastProblem())
			return stepResult{kind: stepTerminal, attempts: ps.Attempts, reason: reason}, nil
		}
		if err := ctx.Err(); err != nil {
			return stepResult{}, err
		}

		snapshot := m.buildContext(ctx, ph, u, &ps)
		m.saveArtifact(ph, ps.Attempts, "context", snapshot)
		m.updateRun(func(rs *runstore.RunState) { rs.CurrentAttempt = ps.Attempts })

		response, invocations, err := m.phases.ExecutePhase(ctx, snapshot, ph.String())
		if err != nil {
			if ctx.Err() != nil {
				return stepResult{}, ctx.Err()
			}
			m.logf("run %s: %s executor error: %v", m.cfg.WorkItem, ph, err)
			ps.Attempts++
			ps.LastError = err.Error()
			ps.LastFeedback = ""
			continue
		}
		m.saveArtifact(ph, ps.Attempts, "response", response)

		if reason, ok := m.abandonReason(response); ok {
			return stepResult{kind: stepAbandon, attempts: ps.Attempts, reason: reason}, nil
		}
		if len(invocations) > 0 {
			m.saveInvocations(ph, ps.Attempts, invocations)
		}

		agg, failure, err := m.submitInvocations(ctx, ph, u, invocations)
		if err != nil {
			return stepResult{}, err
		}
		if failure != "" {
			m.logf("run %s: %s tool failure: %s", m.cfg.WorkItem, ph, failure)
			ps.Attempts++
			ps.LastError = failure
			ps.LastFeedback = ""
			continue
		}

		ok, feedback, err := m.validate(ctx, ph, u, agg)
		if err != nil {
			return stepResult{}, err
		}
		if !ok {
			m.logf("run %s: %s validation failed: %s", m.cfg.WorkItem, ph, feedback)
			m.logEvent(ctx, "validation_failed", ph.String(), ps.Attempts, feedback)
			ps.Attempts++
			ps.LastFeedback = feedback
			ps.LastError = ""
			continue
		}

		return stepResult{kind: stepAdvance, agg: agg, attempts: ps.Attempts}, nil
	}
}

// submitInvocations runs each tool invocation and aggregates successful
// results. The first failing invocation aborts the batch and returns its
// message; the attempt is then retried with that failure in context. Hard
// errors from criterion attribution propagate.
func (m *Machine) submitInvocations(ctx context.Context, ph Phase, u unit, invocations []executor.ToolInvocation) (Aggregate, string, error) {
	var agg Aggregate
	for _, inv := range invocations {
		res, err := m.tools.ExecuteTool(ctx, inv)
		if err != nil {
			return agg, fmt.Sprintf("tool %s: %v", inv.Name, err), nil
		}
		if res.Status == executor.StatusError {
			msg := res.Error
			if msg == "" {
				msg = "tool reported an error without detail"
			}
			return agg, fmt.Sprintf("tool %s: %s", inv.Name, msg), nil
		}
		if err := m.aggregate(&agg, ph, u, inv, res); err != nil {
			return agg, "", err
		}
	}
	return agg, "", nil
}

// aggregate folds one successful invocation into the phase aggregate and
// attributes artifacts to criteria.
func (m *Machine) aggregate(agg *Aggregate, ph Phase, u unit, inv executor.ToolInvocation, res executor.ToolResult) error {
	if inv.Name == "plan_change" {
		agg.PlannedChanges = append(agg.PlannedChanges, PlannedChange{
			Description: stringParam(inv, "description"),
			Criteria:    stringSliceParam(inv, "criteria"),
		})
	}

	if file := res.Metadata["file"]; file != "" {
		switch ph {
		case Testing:
			agg.TestFiles = append(agg.TestFiles, file)
			if u.criterion != "" {
				if err := m.graph.AddTestFile(u.criterion, file); err != nil {
					return err
				}
			}
		default:
			agg.ModifiedFiles = append(agg.ModifiedFiles, file)
			if u.change != nil {
				for _, c := range u.change.Criteria {
					if err := m.graph.AddImplementationFile(c, file); err != nil {
						return err
					}
				}
			}
		}
	}

	if fix := res.Metadata["fix"]; fix != "" {
		agg.FixesApplied = append(agg.FixesApplied, Fix{
			TestFile:    res.Metadata["test_file"],
			Description: fix,
		})
	}
	if commit := res.Metadata["commit"]; commit != "" {
		agg.CommitMessage = commit
	}
	return nil
}

// RecordTestResults persists per-test results and correlates the failures
// back to their owning criteria. Part of the programmatic API: the external
// test-runner integration feeds structured results through here.
func (m *Machine) RecordTestResults(ctx context.Context, results []history.TestResult) error {
	rows := m.history.RecordTestRun(ctx, results)
	var errs []error
	for _, row := range rows {
		if row.Err != nil {
			errs = append(errs, row.Err)
		}
	}

	for i, r := range results {
		if rows[i].Err != nil || r.Status != history.StatusFailed {
			continue
		}
		criterion, ok := m.graph.CriterionByTestFile(r.TestFile)
		if !ok {
			continue
		}
		if _, err := m.engine.RecordFailure(criterion, r.TestFile, r.TestName, r.ErrorMessage, r.StackTrace, r.ModifiedFiles); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// markInProgress moves the unit's untouched criteria to in-progress.
func (m *Machine) markInProgress(ph Phase, u unit) {
	var keys []string
	switch {
	case ph == Implementation && u.change != nil:
		keys = u.change.Criteria
	case ph == Testing && u.criterion != "":
		keys = []string{u.criterion}
	}
	for _, key := range keys {
		c, err := m.graph.Criterion(key)
		if err != nil || c.Status != criteria.NotStarted {
			continue
		}
		m.graph.UpdateStatus(key, criteria.InProgress, "")
	}
}

func stringParam(inv executor.ToolInvocation, key string) string {
	if s, ok := inv.Parameters[key].(string); ok {
		return s
	}
	return ""
}

func stringSliceParam(inv executor.ToolInvocation, key string) []string {
	switch v := inv.Parameters[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (m *Machine) logf(format string, args ...interface{}) {
	if m.out != nil {
		fmt.Fprintf(m.out, format+"\n", args...)
	}
}

// logEvent writes a durable lifecycle event. Best effort: a logging failure
// must not fail the run.
func (m *Machine) logEvent(ctx context.Context, event, phase string, attempt int, detail string) {
	if err := m.history.LogEvent(ctx, m.cfg.WorkItem, event, phase, attempt, detail); err != nil {
		m.logf("run %s: log event %s: %v", m.cfg.WorkItem, event, err)
	}
}

// initRun creates or resumes the on-disk run record.
func (m *Machine) initRun() {
	if m.runs == nil {
		return
	}
	if _, err := m.runs.Create(m.cfg.WorkItem, m.cfg.Task, m.graph.Keys()); err != nil {
		m.updateRun(func(rs *runstore.RunState) { rs.Status = "running" })
	}
}

func (m *Machine) updateRun(fn func(*runstore.RunState)) {
	if m.runs == nil {
		return
	}
	if err := m.runs.Update(m.cfg.WorkItem, fn); err != nil {
		m.logf("run %s: update run state: %v", m.cfg.WorkItem, err)
	}
}

func (m *Machine) recordPhaseHistory(ph Phase, attempts int, outcome string) {
	m.updateRun(func(rs *runstore.RunState) {
		rs.PhaseHistory = append(rs.PhaseHistory, runstore.PhaseHistoryEntry{
			Phase:       ph.String(),
			Attempts:    attempts,
			Outcome:     outcome,
			CompletedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// finishRun records the terminal status and writes the criterion report.
func (m *Machine) finishRun(status, reason string, report RunReport) {
	m.updateRun(func(rs *runstore.RunState) {
		rs.Status = status
		rs.Reason = reason
	})
	if m.runs == nil {
		return
	}
	type finalReport struct {
		RunReport
		Criteria map[string]criteria.ReportEntry `json:"criteria"`
	}
	if err := m.runs.SaveReport(m.cfg.WorkItem, finalReport{RunReport: report, Criteria: m.graph.Report()}); err != nil {
		m.logf("run %s: save report: %v", m.cfg.WorkItem, err)
	}
}

// saveInvocations persists the invocation batch requested in a phase attempt.
// Best effort, like the other attempt artifacts.
func (m *Machine) saveInvocations(ph Phase, attempt int, invocations []executor.ToolInvocation) {
	if m.runs == nil {
		return
	}
	if err := m.runs.SaveInvocations(m.cfg.WorkItem, ph.String(), attempt, invocations); err != nil {
		m.logf("run %s: save invocations: %v", m.cfg.WorkItem, err)
	}
}

// saveArtifact persists a context or response snapshot for a phase attempt.
func (m *Machine) saveArtifact(ph Phase, attempt int, kind, text string) {
	if m.runs == nil {
		return
	}
	var err error
	switch kind {
	case "context":
		err = m.runs.SaveContext(m.cfg.WorkItem, ph.String(), attempt, text)
	case "response":
		err = m.runs.SaveResponse(m.cfg.WorkItem, ph.String(), attempt, text)
	}
	if err != nil {
		m.logf("run %s: save %s: %v", m.cfg.WorkItem, kind, err)
	}
}
