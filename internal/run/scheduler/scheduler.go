package scheduler

import (
	"fmt"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/resolver"
)

// Selector exposes the minimal contract the run engine needs to request
// runnable job batches.
type Selector interface {
	Runnable(RunnableRequest) (RunnableBatch, error)
}

// Scheduler implements Selector on top of a dependency resolver. It examines
// the resolved queue, filters jobs that are truly runnable, and enforces the
// configured constraints.
type Scheduler struct {
	resolver *resolver.Resolver
}

// New wires a Scheduler to a resolver snapshot.
func New(res *resolver.Resolver) (*Scheduler, error) {
	if res == nil {
		return nil, fmt.Errorf("run: scheduler requires a resolver")
	}
	return &Scheduler{resolver: res}, nil
}

// RunnableRequest captures the current runtime state plus any scheduling
// constraints. The Scheduler produces batches that satisfy these constraints.
type RunnableRequest struct {
	// Targets optionally narrows scheduling to a subset of workflow jobs. When
	// empty, every unfinished job is considered.
	Targets []string
	// BatchSize limits how many runnable jobs are returned at once. Values <= 0
	// are treated as "no limit" (subject to MaxParallel enforcement).
	BatchSize int
	// MaxParallel caps how many jobs may be active at once, including the jobs
	// listed in Running. Values <= 0 disable the limit.
	MaxParallel int
	// Running should list jobs that are currently executing so the scheduler
	// won't dispatch them twice.
	Running []string
	// Approved lists approval-gated jobs that a human has released.
	Approved []string
}

// RunnableBatch describes the scheduler's decision.
type RunnableBatch struct {
	Nodes   []*resolver.Node
	Skipped map[string]SkipReason
}

// SkipReason explains why a job was excluded from the runnable set.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonNotReady    SkipReasonCode = "not-ready"
	SkipReasonApproval    SkipReasonCode = "awaiting-approval"
	SkipReasonConcurrency SkipReasonCode = "concurrency"
	SkipReasonActive      SkipReasonCode = "already-running"
)

// Runnable returns a batch of runnable jobs constrained by the request. Jobs
// whose workflow entry demands approval stay gated until their name appears
// in the request's Approved list.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	var batch RunnableBatch
	queue, err := s.resolver.Queue(req.Targets...)
	if err != nil {
		return batch, err
	}
	skip := func(id string, code SkipReasonCode, detail string) {
		if batch.Skipped == nil {
			batch.Skipped = make(map[string]SkipReason)
		}
		batch.Skipped[id] = SkipReason{Reason: code, Detail: detail}
	}

	active := idSet(req.Running)
	capacity := startCapacity(req, len(queue), len(active))
	if capacity == 0 {
		// Nothing may start. When the cause is parallelism rather than an
		// empty queue, report one ready job as blocked so callers can tell
		// the difference.
		if req.MaxParallel > 0 && len(active) >= req.MaxParallel {
			if ready := s.resolver.Ready(); len(ready) > 0 {
				skip(ready[0].ID, SkipReasonConcurrency, fmt.Sprintf("max parallel %d reached", req.MaxParallel))
			}
		}
		return batch, nil
	}

	approved := idSet(req.Approved)
	for _, node := range queue {
		if len(batch.Nodes) == capacity {
			break
		}
		switch {
		case active[node.ID]:
			skip(node.ID, SkipReasonActive, "job already running")
		case node.State != resolver.NodeStateReady:
			skip(node.ID, SkipReasonNotReady, string(node.State))
		case node.Entry.Approval && !approved[node.ID]:
			skip(node.ID, SkipReasonApproval, "awaiting approval")
		default:
			batch.Nodes = append(batch.Nodes, node)
		}
	}
	return batch, nil
}

// startCapacity computes how many new jobs the request allows to launch,
// given the queue depth and the count of jobs already executing.
func startCapacity(req RunnableRequest, queued, active int) int {
	n := queued
	if req.BatchSize > 0 && req.BatchSize < n {
		n = req.BatchSize
	}
	if req.MaxParallel <= 0 {
		return n
	}
	room := req.MaxParallel - active
	if room < 0 {
		room = 0
	}
	if n > room {
		n = room
	}
	return n
}

func idSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = true
	}
	return set
}
