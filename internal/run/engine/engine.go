// Package engine coordinates the resolver and scheduler while persisting run
// state. Every mutation loads the latest snapshot, folds the change in,
// rebuilds readiness, and writes the result back, so concurrent observers
// always see a consistent run.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/resolver"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/scheduler"
)

// Engine coordinates job scheduling and persists run state.
type Engine struct {
	repo  StateStore
	clock func() time.Time
	newID func() string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRunID injects a deterministic run id generator (primarily for tests).
func WithRunID(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New wires a run engine to the persistence store.
func New(repo StateStore, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("run engine: state store is required")
	}
	engine := &Engine{
		repo:  repo,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// StartRequest bootstraps a new run from a pipeline definition.
type StartRequest struct {
	Definition pipeline.Definition
	Workflow   string
	Runtime    *RuntimeOverrides
}

// ResumeRequest refreshes persisted state after process restarts. Jobs that
// were mid-flight when the process died are requeued.
type ResumeRequest struct {
	Runtime *RuntimeOverrides
}

// JobUpdate informs the engine of a job's recorded outcome.
type JobUpdate struct {
	ID     string
	Result JobResult
}

// UpdateRequest applies runtime overrides and job result updates.
type UpdateRequest struct {
	Runtime *RuntimeOverrides
	Results []JobUpdate
}

// ApproveRequest releases an approval-gated job.
type ApproveRequest struct {
	Job string
	By  string
}

// Start evaluates a pipeline definition from scratch and persists the new
// run.
func (e *Engine) Start(req StartRequest) (State, error) {
	normalized, err := req.Definition.Normalized()
	if err != nil {
		return State{}, err
	}
	workflowName := req.Workflow
	if workflowName == "" {
		workflowName = normalized.DefaultWorkflow()
	}
	runtime := applyRuntimeOverrides(RunRuntime{}, req.Runtime)
	state, err := e.buildState(normalized, workflowName, runtime, nil, nil)
	if err != nil {
		return State{}, err
	}
	now := e.now()
	state.RunID = e.newID()
	state.CreatedAt = now
	state.UpdatedAt = now
	if err := e.persist(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Resume reloads persisted state and refreshes resolver and scheduler
// snapshots. Running records left behind by a dead process are dropped so
// their jobs become runnable again.
func (e *Engine) Resume(req ResumeRequest) (State, error) {
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	runtime.Running = nil
	records := cloneRecords(current.Jobs)
	for id, record := range records {
		if record.Status == StatusRunning {
			delete(records, id)
		}
	}
	state, err := e.buildState(current.Definition, current.Workflow, runtime, records, current.Approvals)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.CreatedAt = current.CreatedAt
	state.UpdatedAt = e.now()
	if err := e.persist(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Update merges job results, reapplies runtime overrides, and refreshes
// state.
func (e *Engine) Update(req UpdateRequest) (State, error) {
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	records := mergeResults(current.Jobs, req.Results, e.now)
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	runtime.Running = releaseRunning(runtime.Running, req.Results)
	state, err := e.buildState(current.Definition, current.Workflow, runtime, records, current.Approvals)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.CreatedAt = current.CreatedAt
	state.UpdatedAt = e.now()
	if err := e.persist(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Approve records a human release of an approval-gated job and refreshes
// state.
func (e *Engine) Approve(req ApproveRequest) (State, error) {
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	wf, ok := current.Definition.Workflows[current.Workflow]
	if !ok {
		return State{}, fmt.Errorf("run engine: workflow %s not found in run %s", current.Workflow, current.RunID)
	}
	entry, ok := wf.Entry(req.Job)
	if !ok {
		return State{}, fmt.Errorf("run engine: unknown job %s", req.Job)
	}
	if !entry.Approval {
		return State{}, fmt.Errorf("run engine: job %s does not require approval", req.Job)
	}
	approvals := cloneApprovals(current.Approvals)
	if approvals == nil {
		approvals = map[string]Approval{}
	}
	approvals[req.Job] = Approval{By: strings.TrimSpace(req.By), At: e.now()}
	state, err := e.buildState(current.Definition, current.Workflow, current.Runtime, current.Jobs, approvals)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.CreatedAt = current.CreatedAt
	state.UpdatedAt = e.now()
	if err := e.persist(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// View returns the last persisted snapshot without recomputing resolver
// state.
func (e *Engine) View() (State, error) {
	return e.repo.Load()
}

// ViewRun returns the archived snapshot of a specific run.
func (e *Engine) ViewRun(runID string) (State, error) {
	return e.repo.LoadRun(runID)
}

// Runs lists archived runs, newest first.
func (e *Engine) Runs() ([]RunSummary, error) {
	return e.repo.ListRuns()
}

func (e *Engine) persist(state State) error {
	if err := e.repo.Save(state); err != nil {
		return err
	}
	return e.repo.SaveRun(state)
}

func (e *Engine) buildState(def pipeline.Definition, workflowName string, runtime RunRuntime, records map[string]JobResult, approvals map[string]Approval) (State, error) {
	res, err := resolver.New(def, workflowName)
	if err != nil {
		return State{}, err
	}
	normalized := res.Definition()
	workflowName = res.Workflow()
	closure := targetClosure(
		map[string][]string(normalized.Workflows[workflowName].Graph()),
		runtime.Targets,
	)

	records = cloneRecords(records)
	for {
		res.Refresh(resultsFromRecords(records, runtime.Running))
		doomed := res.Doomed()
		progressed := false
		now := e.now()
		for _, node := range doomed {
			if _, covered := closure[node.ID]; !covered {
				continue
			}
			culprits := doomCulprits(res, node)
			records[node.ID] = JobResult{
				Status:     StatusSkipped,
				Reason:     ReasonDependencyFailed,
				Message:    fmt.Sprintf("requires %s", strings.Join(culprits, ", ")),
				FinishedAt: now,
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	sched, err := scheduler.New(res)
	if err != nil {
		return State{}, err
	}
	batch, err := sched.Runnable(runtime.schedulerRequest(approvals))
	if err != nil {
		return State{}, err
	}

	nodes := summarizeNodes(res, records)
	runtime.Running = dropFinishedRunning(runtime.Running, records)
	runnable := runnableIDs(batch.Nodes)
	status, reason := deriveRunStatus(nodes, runtime, records, runnable, batch.Skipped, closure)

	state := State{
		Pipeline:     normalized.Name,
		Workflow:     workflowName,
		Definition:   normalized,
		Status:       status,
		StatusReason: reason,
		Runtime:      runtime.clone(),
		Nodes:        nodes,
		Runnable:     runnable,
		Skipped:      cloneSkipped(batch.Skipped),
		Jobs:         records,
		Approvals:    cloneApprovals(approvals),
	}
	return state, nil
}

func summarizeNodes(res *resolver.Resolver, records map[string]JobResult) []JobStatus {
	nodes := res.Nodes()
	result := make([]JobStatus, 0, len(nodes))
	for _, node := range nodes {
		status := JobStatus{
			ID:           node.ID,
			Image:        node.Job.Image,
			Executor:     node.Job.EffectiveExecutor(),
			Approval:     node.Entry.Approval,
			State:        node.State,
			Dependencies: cloneStrings(node.Dependencies),
			Dependents:   cloneStrings(node.Dependents),
			BlockedBy:    cloneStrings(node.BlockedBy),
		}
		if record, ok := records[node.ID]; ok {
			copyRecord := record
			status.LastRun = &copyRecord
		}
		result = append(result, status)
	}
	return result
}

func deriveRunStatus(nodes []JobStatus, runtime RunRuntime, records map[string]JobResult, runnable []string, skipped map[string]scheduler.SkipReason, closure map[string]struct{}) (RunStatus, string) {
	if len(runnable) > 0 || len(runtime.Running) > 0 {
		return RunStatusRunning, ""
	}
	var awaiting []string
	for id, reason := range skipped {
		if reason.Reason != scheduler.SkipReasonApproval {
			continue
		}
		if _, covered := closure[id]; covered {
			awaiting = append(awaiting, id)
		}
	}
	if len(awaiting) > 0 {
		sort.Strings(awaiting)
		return RunStatusBlocked, fmt.Sprintf("awaiting approval: %s", strings.Join(awaiting, ", "))
	}
	var unfinished []string
	for _, node := range nodes {
		if _, covered := closure[node.ID]; !covered {
			continue
		}
		if !node.State.Terminal() {
			unfinished = append(unfinished, node.ID)
		}
	}
	if len(unfinished) > 0 {
		sort.Strings(unfinished)
		return RunStatusBlocked, fmt.Sprintf("%s cannot proceed", strings.Join(unfinished, ", "))
	}
	var failed []string
	for id, record := range records {
		if record.Status != StatusFailed {
			continue
		}
		if _, covered := closure[id]; covered {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return RunStatusFailed, fmt.Sprintf("%s failed", strings.Join(failed, ", "))
	}
	return RunStatusComplete, ""
}

func doomCulprits(res *resolver.Resolver, node *resolver.Node) []string {
	var culprits []string
	for _, depID := range node.BlockedBy {
		dep, ok := res.Node(depID)
		if !ok {
			continue
		}
		if dep.State == resolver.NodeStateFailed || dep.State == resolver.NodeStateSkipped {
			culprits = append(culprits, depID)
		}
	}
	sort.Strings(culprits)
	return culprits
}

func runnableIDs(nodes []*resolver.Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}

func mergeResults(existing map[string]JobResult, updates []JobUpdate, clock func() time.Time) map[string]JobResult {
	result := cloneRecords(existing)
	if len(updates) == 0 {
		return result
	}
	for _, update := range updates {
		if update.ID == "" {
			continue
		}
		record := update.Result
		if record.Status == "" {
			if record.Error != "" {
				record.Status = StatusFailed
			} else {
				record.Status = StatusSucceeded
			}
		}
		if record.FinishedAt.IsZero() && record.Status != StatusRunning {
			record.FinishedAt = clock()
		}
		result[update.ID] = record
	}
	return result
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
