// Package state keeps the execution journal: a record of the last migration
// execution in the project directory.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/executor"
)

// StateFile is the filename for state tracking
const StateFile = ".lockshift-state.json"

const version = "1"

// Execution is the journal entry for one apply or rollback run.
type Execution struct {
	ExecutionID    string     `json:"execution_id,omitempty"`
	ScriptID       string     `json:"script_id"`
	PlanPath       string     `json:"plan_path"`
	Connection     string     `json:"connection"`
	Rollback       bool       `json:"rollback,omitempty"`
	DryRun         bool       `json:"dry_run,omitempty"`
	Status         string     `json:"status"`
	CompletedSteps int        `json:"completed_steps"`
	FailedSteps    int        `json:"failed_steps"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the execution never recorded an outcome.
func (e *Execution) Running() bool {
	return e != nil && e.Status == string(executor.StatusRunning)
}

// State is the content of the state file.
type State struct {
	Version       string     `json:"version"`
	LastExecution *Execution `json:"last_execution,omitempty"`

	path string
}

// Load reads the state file in dir. A missing file yields an empty state.
func Load(dir string) (*State, error) {
	path := filepath.Join(dir, StateFile)
	s := &State{Version: version, path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	s.path = path
	return s, nil
}

// Path is where the state is saved.
func (s *State) Path() string { return s.path }

// Save writes the state atomically.
func (s *State) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), StateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to save state file: %w", err)
	}
	return nil
}

// Begin records a new running execution. It refuses while the last execution
// is still marked running, unless force is set.
func (s *State) Begin(exec Execution, force bool) error {
	if s.LastExecution.Running() && !force {
		return errs.Newf(errs.KindInvalidInput,
			"cannot start execution: plan %s is still marked running on %s since %s",
			s.LastExecution.ScriptID, s.LastExecution.Connection, s.LastExecution.StartedAt.Format(time.RFC3339))
	}
	exec.Status = string(executor.StatusRunning)
	exec.FinishedAt = nil
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	s.LastExecution = &exec
	return s.Save()
}

// Finish copies the outcome of result into the running execution.
func (s *State) Finish(result *executor.Result) error {
	if s.LastExecution == nil {
		return errs.New(errs.KindInvalidInput, "no execution in progress")
	}
	if result == nil {
		return errs.New(errs.KindInvalidInput, "execution result is required")
	}
	e := s.LastExecution
	e.ExecutionID = result.ExecutionID
	e.Status = string(result.Status)
	e.CompletedSteps = result.CompletedSteps
	e.FailedSteps = result.FailedSteps
	finished := result.EndTime
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	e.FinishedAt = &finished
	return s.Save()
}

// Clear forgets the last execution.
func (s *State) Clear() error {
	s.LastExecution = nil
	return s.Save()
}
