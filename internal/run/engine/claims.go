package engine

import (
	"fmt"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/resolver"
)

// ClaimRequest asks the engine to reserve runnable jobs for execution.
type ClaimRequest struct {
	Runtime *RuntimeOverrides
	// Limit caps how many runnable jobs may be claimed at once. Zero means
	// "all".
	Limit int
	// Jobs restricts claims to a subset of runnable job names. When empty,
	// every runnable job is eligible.
	Jobs []string
}

// WorkClaim describes a runnable job that has been reserved for execution.
type WorkClaim struct {
	RunID    string       `json:"run_id"`
	Workflow string       `json:"workflow"`
	ID       string       `json:"id"`
	Job      pipeline.Job `json:"job"`
}

// ClaimResult returns the new run state plus the reserved jobs.
type ClaimResult struct {
	Claims []WorkClaim
	State  State
}

// Claim reserves runnable jobs, marks them as running, and persists the new
// snapshot so other observers see the updated runtime state.
func (e *Engine) Claim(req ClaimRequest) (ClaimResult, error) {
	current, err := e.repo.Load()
	if err != nil {
		return ClaimResult{}, err
	}
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	state, err := e.buildState(current.Definition, current.Workflow, runtime, current.Jobs, current.Approvals)
	if err != nil {
		return ClaimResult{}, err
	}
	state.RunID = current.RunID
	state.CreatedAt = current.CreatedAt

	runnable := filterClaimable(state.Runnable, req.Jobs)
	limit := len(runnable)
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	claimIDs := make([]string, limit)
	copy(claimIDs, runnable[:limit])

	claims := make([]WorkClaim, 0, len(claimIDs))
	now := e.now()
	for _, id := range claimIDs {
		job, ok := state.Definition.Jobs[id]
		if !ok {
			return ClaimResult{}, fmt.Errorf("run engine: claimed job %s missing from definition", id)
		}
		claims = append(claims, WorkClaim{
			RunID:    state.RunID,
			Workflow: state.Workflow,
			ID:       id,
			Job:      job.Clone(),
		})
		state.Jobs[id] = JobResult{Status: StatusRunning, StartedAt: now}
	}

	state.Runtime.Running = appendRunning(state.Runtime.Running, claimIDs)
	state.Runnable = stripIDs(state.Runnable, claimIDs)
	markClaimedNodes(state.Nodes, state.Jobs, claimIDs)
	closure := targetClosure(
		map[string][]string(state.Definition.Workflows[state.Workflow].Graph()),
		state.Runtime.Targets,
	)
	state.Status, state.StatusReason = deriveRunStatus(state.Nodes, state.Runtime, state.Jobs, state.Runnable, state.Skipped, closure)
	state.UpdatedAt = e.now()
	if err := e.persist(state); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claims: claims, State: state}, nil
}

func markClaimedNodes(nodes []JobStatus, records map[string]JobResult, claimed []string) {
	set := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		set[id] = struct{}{}
	}
	for i := range nodes {
		if _, ok := set[nodes[i].ID]; !ok {
			continue
		}
		nodes[i].State = resolver.NodeStateRunning
		record := records[nodes[i].ID]
		nodes[i].LastRun = &record
	}
}
