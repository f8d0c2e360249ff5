package resolver

import (
	"strings"
	"testing"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

func testDefinition() pipeline.Definition {
	runStep := func(command string) pipeline.Step {
		return pipeline.Step{Type: pipeline.StepRun, Command: command}
	}
	return pipeline.Definition{
		Version: pipeline.SupportedVersion,
		Jobs: map[string]pipeline.Job{
			"lint":    {Steps: []pipeline.Step{runStep("flake8 .")}},
			"test":    {Steps: []pipeline.Step{runStep("pytest")}},
			"publish": {Steps: []pipeline.Step{runStep("twine upload dist/*")}},
		},
		Workflows: map[string]pipeline.Workflow{
			"build": {Jobs: []pipeline.WorkflowJob{
				{Name: "lint"},
				{Name: "test", Requires: []string{"lint"}},
				{Name: "publish", Requires: []string{"test"}},
			}},
		},
	}
}

func buildResolver(t *testing.T) *Resolver {
	t.Helper()
	resolver, err := New(testDefinition(), "build")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func mustNode(t *testing.T, resolver *Resolver, id string) *Node {
	t.Helper()
	node, ok := resolver.Node(id)
	if !ok {
		t.Fatalf("missing node %s", id)
	}
	return node
}

func TestResolverRefreshSetsStates(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(map[string]Result{"lint": ResultSucceeded})

	lint := mustNode(t, resolver, "lint")
	test := mustNode(t, resolver, "test")
	publish := mustNode(t, resolver, "publish")

	if lint.State != NodeStateSucceeded {
		t.Fatalf("expected lint succeeded, got %s", lint.State)
	}
	if test.State != NodeStateReady {
		t.Fatalf("expected test ready, got %s", test.State)
	}
	if publish.State != NodeStateBlocked {
		t.Fatalf("expected publish blocked, got %s", publish.State)
	}
	if len(publish.BlockedBy) != 1 || publish.BlockedBy[0] != "test" {
		t.Fatalf("publish blocked by %+v", publish.BlockedBy)
	}

	ready := resolver.Ready()
	if len(ready) != 1 || ready[0].ID != "test" {
		t.Fatalf("unexpected ready set: %#v", ready)
	}
}

func TestResolverIndependentJobsAllReady(t *testing.T) {
	def, err := pipeline.DefaultDefinition()
	if err != nil {
		t.Fatalf("default definition: %v", err)
	}
	resolver, err := New(def, "")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	resolver.Refresh(nil)

	ready := resolver.Ready()
	if len(ready) != 4 {
		t.Fatalf("expected all four jobs ready, got %d", len(ready))
	}
	if resolver.Workflow() != "build" {
		t.Fatalf("expected the build workflow, got %s", resolver.Workflow())
	}
}

func TestResolverQueueTargetsOrdersRequirements(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(nil)

	queue, err := resolver.Queue("publish")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 queued jobs, got %d", len(queue))
	}
	if queue[0].ID != "lint" || queue[1].ID != "test" || queue[2].ID != "publish" {
		t.Fatalf("unexpected order: %s -> %s -> %s", queue[0].ID, queue[1].ID, queue[2].ID)
	}
}

func TestResolverQueueSkipsSucceeded(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(map[string]Result{"lint": ResultSucceeded})

	queue, err := resolver.Queue("publish")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != "test" || queue[1].ID != "publish" {
		t.Fatalf("unexpected queue: %#v", queue)
	}
}

func TestResolverQueueRejectsUnknownJob(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(nil)

	_, err := resolver.Queue("ghost")
	if err == nil || !strings.Contains(err.Error(), "unknown job ghost") {
		t.Fatalf("unexpected queue error: %v", err)
	}
}

func TestResolverDoomedPropagatesThroughSkips(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(map[string]Result{"lint": ResultFailed})

	doomed := resolver.Doomed()
	if len(doomed) != 1 || doomed[0].ID != "test" {
		t.Fatalf("expected test doomed after lint failure, got %#v", doomed)
	}

	// Once the engine records the skip, the next job in the chain is doomed.
	resolver.Refresh(map[string]Result{
		"lint": ResultFailed,
		"test": ResultSkipped,
	})
	doomed = resolver.Doomed()
	if len(doomed) != 1 || doomed[0].ID != "publish" {
		t.Fatalf("expected publish doomed after test skip, got %#v", doomed)
	}
}

func TestResolverSettled(t *testing.T) {
	resolver := buildResolver(t)
	resolver.Refresh(map[string]Result{"lint": ResultFailed})
	if resolver.Settled() {
		t.Fatalf("run with doomed jobs should not be settled")
	}

	resolver.Refresh(map[string]Result{
		"lint":    ResultFailed,
		"test":    ResultSkipped,
		"publish": ResultSkipped,
	})
	if !resolver.Settled() {
		t.Fatalf("run with all terminal jobs should be settled")
	}
}

func TestResolverRejectsUnknownWorkflow(t *testing.T) {
	_, err := New(testDefinition(), "nightly")
	if err == nil || !strings.Contains(err.Error(), "unknown workflow nightly") {
		t.Fatalf("unexpected error: %v", err)
	}
}
