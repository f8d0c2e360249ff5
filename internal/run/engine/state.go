package engine

import (
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/resolver"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/scheduler"
)

// RunStatus enumerates coarse run phases.
type RunStatus string

const (
	RunStatusUnknown  RunStatus = "unknown"
	RunStatusRunning  RunStatus = "running"
	RunStatusBlocked  RunStatus = "blocked"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Terminal reports whether the run can make no further progress on its own.
// A blocked run is not terminal: an approval can still release it.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// Status enumerates recorded job and step outcomes.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ReasonDependencyFailed marks jobs skipped because something they require
// failed or was skipped itself.
const ReasonDependencyFailed = "dependency-failed"

// State captures the persisted snapshot of one pipeline run.
type State struct {
	RunID      string              `json:"run_id"`
	Pipeline   string              `json:"pipeline,omitempty"`
	Workflow   string              `json:"workflow"`
	Definition pipeline.Definition `json:"definition"`
	Status     RunStatus           `json:"status"`
	// StatusReason provides a human readable explanation for non-running states.
	StatusReason string                          `json:"status_reason,omitempty"`
	Runtime      RunRuntime                      `json:"runtime"`
	Nodes        []JobStatus                     `json:"nodes"`
	Runnable     []string                        `json:"runnable"`
	Skipped      map[string]scheduler.SkipReason `json:"skipped,omitempty"`
	Jobs         map[string]JobResult            `json:"jobs,omitempty"`
	Approvals    map[string]Approval             `json:"approvals,omitempty"`
	CreatedAt    time.Time                       `json:"created_at"`
	UpdatedAt    time.Time                       `json:"updated_at"`
}

// JobStatusFor returns the node summary for a job name.
func (s State) JobStatusFor(id string) (JobStatus, bool) {
	for _, node := range s.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return JobStatus{}, false
}

// RunRuntime mirrors scheduler constraints that survive across updates.
type RunRuntime struct {
	Targets     []string `json:"targets,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	MaxParallel int      `json:"max_parallel,omitempty"`
	Running     []string `json:"running,omitempty"`
}

// RuntimeOverrides selectively mutates RunRuntime fields.
type RuntimeOverrides struct {
	Targets     *[]string
	BatchSize   *int
	MaxParallel *int
	Running     *[]string
}

// JobStatus exposes resolver metadata for one workflow job.
type JobStatus struct {
	ID           string             `json:"id"`
	Image        string             `json:"image,omitempty"`
	Executor     string             `json:"executor"`
	Approval     bool               `json:"approval,omitempty"`
	State        resolver.NodeState `json:"state"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Dependents   []string           `json:"dependents,omitempty"`
	BlockedBy    []string           `json:"blocked_by,omitempty"`
	LastRun      *JobResult         `json:"last_run,omitempty"`
}

// JobResult records the outcome of one job execution within a run.
type JobResult struct {
	Status     Status       `json:"status"`
	ExitCode   int          `json:"exit_code,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
}

// Duration returns the elapsed wall time, zero when unknown.
func (r JobResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StepResult records the outcome of one step within a job execution.
type StepResult struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Status     Status    `json:"status"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	LogFile    string    `json:"log_file,omitempty"`
}

// Approval records who released an approval-gated job.
type Approval struct {
	By string    `json:"by,omitempty"`
	At time.Time `json:"at"`
}

// schedulerRequest converts the runtime plus approvals into a scheduler
// request payload.
func (rt RunRuntime) schedulerRequest(approvals map[string]Approval) scheduler.RunnableRequest {
	return scheduler.RunnableRequest{
		Targets:     cloneStrings(rt.Targets),
		BatchSize:   rt.BatchSize,
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
		Approved:    approvedIDs(approvals),
	}
}

func (rt RunRuntime) clone() RunRuntime {
	return RunRuntime{
		Targets:     cloneStrings(rt.Targets),
		BatchSize:   rt.BatchSize,
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
	}
}

// resultsFromRecords folds recorded outcomes and the running set into the
// resolver's input. A terminal record always wins over a stale running entry.
func resultsFromRecords(records map[string]JobResult, running []string) map[string]resolver.Result {
	out := make(map[string]resolver.Result, len(records)+len(running))
	for id, record := range records {
		switch record.Status {
		case StatusSucceeded:
			out[id] = resolver.ResultSucceeded
		case StatusFailed:
			out[id] = resolver.ResultFailed
		case StatusSkipped:
			out[id] = resolver.ResultSkipped
		case StatusRunning:
			out[id] = resolver.ResultRunning
		}
	}
	for _, id := range running {
		if _, ok := out[id]; !ok {
			out[id] = resolver.ResultRunning
		}
	}
	return out
}

func approvedIDs(approvals map[string]Approval) []string {
	if len(approvals) == 0 {
		return nil
	}
	out := make([]string, 0, len(approvals))
	for id := range approvals {
		out = append(out, id)
	}
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneRecords(values map[string]JobResult) map[string]JobResult {
	if len(values) == 0 {
		return map[string]JobResult{}
	}
	out := make(map[string]JobResult, len(values))
	for id, record := range values {
		out[id] = record
	}
	return out
}

func cloneApprovals(values map[string]Approval) map[string]Approval {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]Approval, len(values))
	for id, approval := range values {
		out[id] = approval
	}
	return out
}

func cloneSkipped(values map[string]scheduler.SkipReason) map[string]scheduler.SkipReason {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]scheduler.SkipReason, len(values))
	for id, reason := range values {
		out[id] = reason
	}
	return out
}
