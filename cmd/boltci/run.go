package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logging"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/step"
)

// cmdRun executes a workflow to rest and exits non-zero when the run failed.
// A blocked run (pending approval) exits zero with a hint instead.
func cmdRun(args []string) {
	fs, project := newFlagSet("run")
	file := fs.String("f", "", "pipeline file (defaults to the project pipeline)")
	workflowName := fs.String("workflow", "", "workflow to run (defaults to the pipeline's main workflow)")
	maxParallel := fs.Int("max-parallel", 0, "maximum jobs in flight (0 uses runner settings)")
	resume := fs.Bool("resume", false, "continue the persisted run instead of starting a new one")
	var jobs stringListFlag
	fs.Var(&jobs, "job", "run only this job and what it requires (repeatable)")
	fs.Parse(args)

	cfg := mustConfig(*project)
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		die("init %s: %v", config.ProjectDirName, err)
	}

	// New runs adopt the configured dispatch limit; resumed runs keep the
	// persisted one unless the flag names a new limit.
	overrides := &engine.RuntimeOverrides{}
	if *maxParallel > 0 {
		overrides.MaxParallel = maxParallel
	} else if !*resume {
		limit := cfg.MaxParallel()
		overrides.MaxParallel = &limit
	}
	if len(jobs) > 0 {
		targets := []string(jobs)
		overrides.Targets = &targets
	}

	eng := mustEngine(cfg)
	runner := step.NewRunner(cfg, step.WithLogger(logging.For("step")))
	driver, err := engine.NewDriver(eng, runner, logging.For("driver"))
	if err != nil {
		die("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var state engine.State
	if *resume {
		state, err = driver.ResumeRun(ctx, engine.ResumeRequest{Runtime: overrides})
	} else {
		def := mustDefinition(cfg, *file)
		state, err = driver.Run(ctx, engine.StartRequest{
			Definition: def,
			Workflow:   pickWorkflow(def, *workflowName),
			Runtime:    overrides,
		})
	}
	if err != nil {
		die("run: %v", err)
	}

	printRunSummary(state)
	switch state.Status {
	case engine.RunStatusBlocked:
		fmt.Println("\nRelease the gate and continue with: boltci approve <job> && boltci run -resume")
	case engine.RunStatusFailed:
		os.Exit(1)
	}
}

func cmdStatus(args []string) {
	fs, project := newFlagSet("status")
	runID := fs.String("run", "", "inspect an archived run id instead of the latest")
	fs.Parse(args)

	cfg := mustConfig(*project)
	eng := mustEngine(cfg)
	var (
		state engine.State
		err   error
	)
	if id := strings.TrimSpace(*runID); id == "" {
		state, err = eng.View()
	} else {
		state, err = eng.ViewRun(id)
	}
	if errors.Is(err, engine.ErrStateNotFound) {
		fmt.Println("No runs recorded yet. Start one with: boltci run")
		return
	}
	if err != nil {
		die("%v", err)
	}
	printRunSummary(state)

	runs, err := eng.Runs()
	if err != nil || len(runs) < 2 {
		return
	}
	fmt.Printf("\n%d recorded runs (inspect with -run <id>):\n", len(runs))
	for idx, summary := range runs {
		if idx == 5 {
			fmt.Println("  ...")
			break
		}
		fmt.Printf("  %s  %-8s  %s\n", summary.RunID, summary.Status, summary.UpdatedAt.Local().Format(time.RFC3339))
	}
}

func cmdApprove(args []string) {
	fs, project := newFlagSet("approve")
	by := fs.String("by", "", "who is approving (defaults to $USER)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		die("usage: boltci approve [-by name] <job>")
	}
	job := fs.Arg(0)

	cfg := mustConfig(*project)
	eng := mustEngine(cfg)
	approver := strings.TrimSpace(*by)
	if approver == "" {
		approver = strings.TrimSpace(os.Getenv("USER"))
	}
	if approver == "" {
		approver = "local"
	}
	state, err := eng.Approve(engine.ApproveRequest{Job: job, By: approver})
	if err != nil {
		die("%v", err)
	}
	fmt.Printf("Approved %s on run %s\n", job, state.RunID)
	if len(state.Runnable) > 0 {
		fmt.Println("Continue with: boltci run -resume")
	}
}

func printRunSummary(state engine.State) {
	fmt.Printf("Run %s  workflow=%s  status=%s\n", state.RunID, state.Workflow, state.Status)
	if state.StatusReason != "" {
		fmt.Printf("  %s\n", state.StatusReason)
	}
	for _, node := range state.Nodes {
		line := fmt.Sprintf("  %-20s %s", node.ID, node.State)
		if record, ok := state.Jobs[node.ID]; ok {
			if elapsed := record.Duration(); elapsed > 0 {
				line += "  " + elapsed.Round(time.Millisecond).String()
			}
			if record.Message != "" && record.Status != engine.StatusSucceeded {
				line += "  " + record.Message
			}
		}
		if reason, ok := state.Skipped[node.ID]; ok {
			line += fmt.Sprintf("  [%s]", reason.Reason)
		}
		fmt.Println(line)
	}
}

type stringListFlag []string

func (s *stringListFlag) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringListFlag) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("job name is empty")
	}
	*s = append(*s, value)
	return nil
}
