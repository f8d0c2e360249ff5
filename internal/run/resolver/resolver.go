// Package resolver evaluates job readiness for one workflow: which jobs can
// run now, which are blocked, and which are doomed because something they
// require already failed.
package resolver

import (
	"fmt"
	"sort"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// NodeState represents the resolver's understanding of a job's readiness.
type NodeState string

const (
	NodeStateUnknown   NodeState = "unknown"
	NodeStatePending   NodeState = "pending"
	NodeStateReady     NodeState = "ready"
	NodeStateBlocked   NodeState = "blocked"
	NodeStateRunning   NodeState = "running"
	NodeStateSucceeded NodeState = "succeeded"
	NodeStateFailed    NodeState = "failed"
	NodeStateSkipped   NodeState = "skipped"
)

// Terminal reports whether the state can no longer change within a run.
func (s NodeState) Terminal() bool {
	switch s {
	case NodeStateSucceeded, NodeStateFailed, NodeStateSkipped:
		return true
	}
	return false
}

// Result is a recorded job outcome the resolver folds into readiness.
type Result string

const (
	ResultNone      Result = ""
	ResultRunning   Result = "running"
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
	ResultSkipped   Result = "skipped"
)

// Node captures one workflow job plus its dependency metadata.
type Node struct {
	ID           string
	Job          pipeline.Job
	Entry        pipeline.WorkflowJob
	Dependencies []string
	Dependents   []string

	State     NodeState
	BlockedBy []string
}

// Resolver builds and evaluates the dependency graph of one workflow.
type Resolver struct {
	definition pipeline.Definition
	workflow   string
	nodes      map[string]*Node
	orderedIDs []string
}

// New constructs a resolver for the named workflow of a definition. The
// definition is normalized first, so an invalid document never resolves.
func New(def pipeline.Definition, workflowName string) (*Resolver, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	if workflowName == "" {
		workflowName = normalized.DefaultWorkflow()
	}
	wf, ok := normalized.Workflows[workflowName]
	if !ok {
		return nil, fmt.Errorf("run: unknown workflow %s", workflowName)
	}

	graph := wf.Graph()
	nodes := make(map[string]*Node, len(wf.Jobs))
	ordered := make([]string, 0, len(wf.Jobs))
	for _, entry := range wf.Jobs {
		node := &Node{
			ID:           entry.Name,
			Job:          normalized.Jobs[entry.Name],
			Entry:        entry,
			Dependencies: graph[entry.Name],
			State:        NodeStateUnknown,
		}
		nodes[entry.Name] = node
		ordered = append(ordered, entry.Name)
	}
	for _, node := range nodes {
		for _, depID := range node.Dependencies {
			dep, ok := nodes[depID]
			if !ok {
				return nil, fmt.Errorf("run: workflow %s: requirement %s referenced by %s not declared", workflowName, depID, node.ID)
			}
			dep.Dependents = append(dep.Dependents, node.ID)
		}
	}
	for _, node := range nodes {
		if len(node.Dependents) > 1 {
			sort.Strings(node.Dependents)
		}
	}
	return &Resolver{
		definition: normalized,
		workflow:   workflowName,
		nodes:      nodes,
		orderedIDs: ordered,
	}, nil
}

// Definition returns a clone of the resolver's pipeline definition.
func (r *Resolver) Definition() pipeline.Definition {
	return r.definition.Clone()
}

// Workflow returns the resolved workflow name.
func (r *Resolver) Workflow() string {
	return r.workflow
}

// Nodes returns the nodes in workflow declaration order.
func (r *Resolver) Nodes() []*Node {
	out := make([]*Node, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		if node, ok := r.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

// Node retrieves a specific job node by name.
func (r *Resolver) Node(id string) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Refresh re-evaluates readiness against the recorded job outcomes. Callers
// should invoke Refresh before querying for runnable jobs so the snapshot
// reflects the run's current results.
func (r *Resolver) Refresh(results map[string]Result) {
	for _, node := range r.nodes {
		node.BlockedBy = nil
		switch results[node.ID] {
		case ResultSucceeded:
			node.State = NodeStateSucceeded
		case ResultFailed:
			node.State = NodeStateFailed
		case ResultSkipped:
			node.State = NodeStateSkipped
		case ResultRunning:
			node.State = NodeStateRunning
		default:
			node.State = NodeStatePending
		}
	}
	for _, node := range r.nodes {
		if node.State != NodeStatePending {
			continue
		}
		blockers := r.blockers(node)
		if len(blockers) == 0 {
			node.State = NodeStateReady
		} else {
			node.State = NodeStateBlocked
			node.BlockedBy = blockers
		}
	}
}

// Ready returns jobs that are runnable because everything they require
// succeeded.
func (r *Resolver) Ready() []*Node {
	var ready []*Node
	for _, id := range r.orderedIDs {
		node := r.nodes[id]
		if node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Doomed returns blocked jobs that can never run in this attempt because a
// requirement already failed or was skipped.
func (r *Resolver) Doomed() []*Node {
	var doomed []*Node
	for _, id := range r.orderedIDs {
		node := r.nodes[id]
		if node.State != NodeStateBlocked {
			continue
		}
		for _, depID := range node.BlockedBy {
			dep := r.nodes[depID]
			if dep.State == NodeStateFailed || dep.State == NodeStateSkipped {
				doomed = append(doomed, node)
				break
			}
		}
	}
	return doomed
}

// Settled reports whether no job can make further progress: everything is
// terminal, or whatever remains is blocked forever.
func (r *Resolver) Settled() bool {
	for _, node := range r.nodes {
		switch node.State {
		case NodeStateReady, NodeStateRunning, NodeStatePending:
			return false
		}
	}
	return len(r.Doomed()) == 0
}

// Queue returns the jobs that must run to satisfy the requested targets,
// requirements first. If no targets are provided every job is considered.
// Jobs that already succeeded are skipped.
func (r *Resolver) Queue(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		targets = append([]string{}, r.orderedIDs...)
	}
	visited := make(map[string]bool, len(targets))
	ordered := make([]*Node, 0, len(r.nodes))
	var visit func(string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		node, ok := r.nodes[id]
		if !ok {
			return fmt.Errorf("run: unknown job %s", id)
		}
		visited[id] = true
		for _, dep := range node.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		if node.State != NodeStateSucceeded {
			ordered = append(ordered, node)
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (r *Resolver) blockers(node *Node) []string {
	if len(node.Dependencies) == 0 {
		return nil
	}
	blockers := make([]string, 0, len(node.Dependencies))
	for _, depID := range node.Dependencies {
		dep, ok := r.nodes[depID]
		if !ok || dep.State != NodeStateSucceeded {
			blockers = append(blockers, depID)
		}
	}
	if len(blockers) == 0 {
		return nil
	}
	return blockers
}
