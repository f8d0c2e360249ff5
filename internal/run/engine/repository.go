package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

// ErrStateNotFound is returned when no persisted run state exists yet.
var ErrStateNotFound = errors.New("run engine: state not found")

// ErrRunNotFound is returned when a requested run archive does not exist.
var ErrRunNotFound = errors.New("run engine: run not found")

// StateStore persists run state snapshots. Save covers the latest pointer,
// SaveRun the per-run archive.
type StateStore interface {
	Load() (State, error)
	Save(State) error
	LoadRun(runID string) (State, error)
	SaveRun(State) error
	ListRuns() ([]RunSummary, error)
}

// RunSummary is the archive listing entry for one run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores run state under the project state directory: the latest
// snapshot at state.json plus one archive file per run.
type Repository struct {
	statePath string
	runsDir   string
}

// NewRepository creates a repository rooted at the project's state directory.
func NewRepository(cfg *config.Config) *Repository {
	return &Repository{
		statePath: filepath.Join(cfg.StateDir(), "state.json"),
		runsDir:   cfg.RunsDir(),
	}
}

// Load reads the latest persisted state if present.
func (r *Repository) Load() (State, error) {
	return readState(r.statePath, ErrStateNotFound)
}

// Save writes the latest state pointer to disk with best-effort atomicity.
func (r *Repository) Save(state State) error {
	return writeState(r.statePath, state)
}

// LoadRun reads the archived state of a specific run.
func (r *Repository) LoadRun(runID string) (State, error) {
	if strings.TrimSpace(runID) == "" {
		return State{}, ErrRunNotFound
	}
	return readState(filepath.Join(r.runsDir, runID+".json"), ErrRunNotFound)
}

// SaveRun writes the per-run archive file.
func (r *Repository) SaveRun(state State) error {
	if strings.TrimSpace(state.RunID) == "" {
		return fmt.Errorf("run engine: cannot archive a run without an id")
	}
	return writeState(filepath.Join(r.runsDir, state.RunID+".json"), state)
}

// ListRuns returns archive summaries sorted newest first.
func (r *Repository) ListRuns() ([]RunSummary, error) {
	entries, err := os.ReadDir(r.runsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	summaries := make([]RunSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		state, err := readState(filepath.Join(r.runsDir, entry.Name()), ErrRunNotFound)
		if err != nil {
			continue
		}
		summaries = append(summaries, RunSummary{
			RunID:     state.RunID,
			Workflow:  state.Workflow,
			Status:    state.Status,
			CreatedAt: state.CreatedAt,
			UpdatedAt: state.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].RunID > summaries[j].RunID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func readState(path string, notFound error) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, notFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func writeState(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}
