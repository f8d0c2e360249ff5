package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline/dag"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
)

// cmdGraph renders a workflow's dependency graph in Graphviz DOT form,
// optionally overlaying node status and duration heat from a recorded run.
func cmdGraph(args []string) {
	fs, project := newFlagSet("graph")
	file := fs.String("f", "", "pipeline file (defaults to the project pipeline)")
	workflowName := fs.String("workflow", "", "workflow to render (defaults to the pipeline's main workflow)")
	output := fs.String("o", "", "write DOT to this file instead of stdout")
	timings := fs.String("timings", "", `color nodes from a recorded run ("latest" or a run id)`)
	fs.Parse(args)

	cfg := mustConfig(*project)
	def := mustDefinition(cfg, *file)
	name := pickWorkflow(def, *workflowName)

	g, err := dag.Build(def.Workflows[name].Graph())
	if err != nil {
		die("graph: %v", err)
	}
	if run := strings.TrimSpace(*timings); run != "" {
		if err := overlayRun(g, cfg, run); err != nil {
			die("graph: %v", err)
		}
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			die("graph: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := g.RenderDOT(out, dag.GraphAttribute("label", name)); err != nil {
		die("graph: %v", err)
	}
	if *output != "" {
		fmt.Printf("Wrote %s\n", *output)
	}
}

// overlayRun colors graph nodes by the run's job states and outlines them on
// a duration heat ramp. Jobs outside the rendered workflow are ignored.
func overlayRun(g *dag.Graph, cfg *config.Config, runID string) error {
	eng := mustEngine(cfg)
	var (
		state engine.State
		err   error
	)
	if runID == "latest" {
		state, err = eng.View()
	} else {
		state, err = eng.ViewRun(runID)
	}
	if err != nil {
		return err
	}

	known := map[string]struct{}{}
	for _, node := range g.Nodes() {
		known[node] = struct{}{}
	}
	durations := make(map[string]time.Duration, len(state.Jobs))
	for _, node := range state.Nodes {
		if _, ok := known[node.ID]; !ok {
			continue
		}
		if err := g.SetStatus(node.ID, string(node.State)); err != nil {
			return err
		}
		record, ok := state.Jobs[node.ID]
		if !ok {
			continue
		}
		if elapsed := record.Duration(); elapsed > 0 {
			durations[node.ID] = elapsed
			if err := g.SetDuration(node.ID, elapsed); err != nil {
				return err
			}
		}
	}
	return g.ApplyHeat(durations)
}
