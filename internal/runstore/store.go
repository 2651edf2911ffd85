// Package runstore manages on-disk artifacts of work-item runs: run state,
// per-phase-attempt context and response snapshots, and the final report.
package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RunState is the durable state of one work-item run.
type RunState struct {
	WorkItem       string              `json:"work_item"`
	Task           string              `json:"task"`
	Criteria       []string            `json:"criteria"`
	CurrentPhase   string              `json:"current_phase"`
	CurrentAttempt int                 `json:"current_attempt"`
	PhaseHistory   []PhaseHistoryEntry `json:"phase_history"`
	Status         string              `json:"status"` // pending, running, succeeded, abandoned, failed
	Reason         string              `json:"reason,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

// PhaseHistoryEntry records one completed phase.
type PhaseHistoryEntry struct {
	Phase       string `json:"phase"`
	Attempts    int    `json:"attempts"`
	Outcome     string `json:"outcome"` // advanced, abandoned, failed
	CompletedAt string `json:"completed_at"`
}

// Store manages run state on disk.
type Store struct {
	baseDir string // defaults to ~/.forge/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.forge/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".forge", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(workItem string) string {
	return filepath.Join(s.baseDir, workItem)
}

func (s *Store) runPath(workItem string) string {
	return filepath.Join(s.runDir(workItem), "run.json")
}

func (s *Store) phaseAttemptDir(workItem, phase string, attempt int) string {
	return filepath.Join(s.runDir(workItem), "phases", phase, fmt.Sprintf("attempt-%d", attempt))
}

func validWorkItem(workItem string) error {
	if workItem == "" || strings.ContainsAny(workItem, "/\\") || workItem == "." || workItem == ".." {
		return fmt.Errorf("invalid work item id %q", workItem)
	}
	return nil
}

// Create initialises a new run on disk.
func (s *Store) Create(workItem, task string, criteria []string) (*RunState, error) {
	if err := validWorkItem(workItem); err != nil {
		return nil, err
	}
	dir := s.runDir(workItem)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", workItem)
	}

	if err := os.MkdirAll(filepath.Join(dir, "phases"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir phases: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rs := &RunState{
		WorkItem:     workItem,
		Task:         task,
		Criteria:     append([]string(nil), criteria...),
		CurrentPhase: "analysis",
		PhaseHistory: []PhaseHistoryEntry{},
		Status:       "pending",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := WriteJSON(s.runPath(workItem), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the run state for a work item.
func (s *Store) Get(workItem string) (*RunState, error) {
	var rs RunState
	if err := ReadJSON(s.runPath(workItem), &rs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("run %s not found", workItem)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs an atomic read-modify-write of the run state.
func (s *Store) Update(workItem string, fn func(*RunState)) error {
	rs, err := s.Get(workItem)
	if err != nil {
		return err
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.runPath(workItem), rs)
}

// List returns all runs, optionally filtered by status.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(statusFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].WorkItem < runs[j].WorkItem
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(workItem string) error {
	if err := validWorkItem(workItem); err != nil {
		return err
	}
	dir := s.runDir(workItem)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", workItem)
	}
	return os.RemoveAll(dir)
}

// SaveContext writes the context snapshot fed to the phase executor.
func (s *Store) SaveContext(workItem, phase string, attempt int, context string) error {
	dir := s.phaseAttemptDir(workItem, phase, attempt)
	return WriteAtomic(filepath.Join(dir, "context.md"), []byte(context))
}

// GetContext reads the context snapshot for a phase attempt.
func (s *Store) GetContext(workItem, phase string, attempt int) (string, error) {
	data, err := readArtifact(filepath.Join(s.phaseAttemptDir(workItem, phase, attempt), "context.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveResponse writes the phase executor's response text.
func (s *Store) SaveResponse(workItem, phase string, attempt int, response string) error {
	dir := s.phaseAttemptDir(workItem, phase, attempt)
	return WriteAtomic(filepath.Join(dir, "response.md"), []byte(response))
}

// GetResponse reads the response text for a phase attempt.
func (s *Store) GetResponse(workItem, phase string, attempt int) (string, error) {
	data, err := readArtifact(filepath.Join(s.phaseAttemptDir(workItem, phase, attempt), "response.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveInvocations writes the tool invocations and their results as JSON.
func (s *Store) SaveInvocations(workItem, phase string, attempt int, v interface{}) error {
	dir := s.phaseAttemptDir(workItem, phase, attempt)
	return WriteJSON(filepath.Join(dir, "invocations.json"), v)
}

// SaveReport writes the final criterion status report for a run.
func (s *Store) SaveReport(workItem string, report interface{}) error {
	return WriteJSON(filepath.Join(s.runDir(workItem), "report.json"), report)
}
