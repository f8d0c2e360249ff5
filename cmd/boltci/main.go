// cmd/boltci/main.go
//
// boltci is the pipeline runner CLI. Subcommands cover the whole lifecycle:
// init a project, validate and inspect the pipeline, execute workflows,
// approve gated jobs, serve the status API, and watch runs in the terminal.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logging"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
	"github.com/sarthakpati/pytorch-lightning-bolts/plugins"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logging.ConfigureRuntime("boltci")

	command, rest := args[0], args[1:]
	switch command {
	case "init":
		cmdInit(rest)
	case "validate":
		cmdValidate(rest)
	case "jobs":
		cmdJobs(rest)
	case "graph":
		cmdGraph(rest)
	case "run":
		cmdRun(rest)
	case "status":
		cmdStatus(rest)
	case "approve":
		cmdApprove(rest)
	case "serve":
		cmdServe(rest)
	case "watch":
		cmdWatch(rest)
	case "help":
		usage()
	default:
		die("unknown command %q (see boltci help)", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `boltci runs declarative CI pipelines from %s/%s.

Usage:
  boltci <command> [flags]

Commands:
  init      create the %s directory and a default pipeline
  validate  parse and validate the pipeline definition
  jobs      list the jobs of a workflow
  graph     render the workflow dependency graph as DOT
  run       execute a workflow
  status    show the latest or an archived run
  approve   release an approval-gated job
  serve     expose the status API over HTTP
  watch     follow runs in the terminal

Run "boltci <command> -h" for command flags.
`, config.ProjectDirName, config.PipelineFileName, config.ProjectDirName)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// newFlagSet builds a subcommand flag set with the shared -project flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("boltci "+name, flag.ExitOnError)
	project := fs.String("project", "", "path to the project directory (defaults to cwd)")
	return fs, project
}

func resolveProjectDir(flagValue string) string {
	dir := strings.TrimSpace(flagValue)
	if dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		die("determine working directory: %v", err)
	}
	return cwd
}

func mustConfig(project string) *config.Config {
	cfg, err := config.NewConfig(resolveProjectDir(project))
	if err != nil {
		die("%v", err)
	}
	logging.ApplyLevel(cfg.Runner.Log.Level)
	return cfg
}

func mustEngine(cfg *config.Config) *engine.Engine {
	eng, err := engine.New(engine.NewRepository(cfg))
	if err != nil {
		die("%v", err)
	}
	return eng
}

// loadDefinition parses a pipeline with the project's command library in
// scope, so custom steps from the commands directory expand during load.
func loadDefinition(cfg *config.Config, path string) (pipeline.Definition, error) {
	library, err := plugins.Discover(cfg)
	if err != nil {
		return pipeline.Definition{}, err
	}
	target := strings.TrimSpace(path)
	if target == "" {
		target = cfg.PipelinePath()
	}
	return pipeline.LoadFileWith(target, library)
}

func mustDefinition(cfg *config.Config, path string) pipeline.Definition {
	def, err := loadDefinition(cfg, path)
	if err != nil {
		die("%v", err)
	}
	return def
}

// pickWorkflow resolves the workflow to operate on, falling back to the
// definition's main workflow when none is named.
func pickWorkflow(def pipeline.Definition, requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = def.DefaultWorkflow()
	}
	if _, ok := def.Workflows[name]; !ok {
		die("workflow %q is not defined (have: %s)", name, strings.Join(def.WorkflowNames(), ", "))
	}
	return name
}

func cmdInit(args []string) {
	fs, project := newFlagSet("init")
	fs.Parse(args)

	cfg := mustConfig(*project)
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		die("init %s: %v", config.ProjectDirName, err)
	}
	if err := pipeline.EnsureDefaultFile(cfg.PipelinePath()); err != nil {
		die("%v", err)
	}
	fmt.Printf("Initialized %s in %s\n", config.ProjectDirName, cfg.ProjectDir)
	fmt.Printf("Pipeline: %s\n", cfg.PipelinePath())
}

func cmdValidate(args []string) {
	fs, project := newFlagSet("validate")
	file := fs.String("f", "", "pipeline file (defaults to the project pipeline)")
	fs.Parse(args)

	cfg := mustConfig(*project)
	target := strings.TrimSpace(*file)
	if target == "" {
		target = cfg.PipelinePath()
	}
	def, err := loadDefinition(cfg, target)
	if err != nil {
		die("%v", err)
	}
	fmt.Printf("%s is valid: %d jobs, %d workflows\n", target, len(def.Jobs), len(def.Workflows))
	for _, name := range def.WorkflowNames() {
		fmt.Printf("  workflow %s: %s\n", name, strings.Join(def.Workflows[name].JobNames(), ", "))
	}
}

func cmdJobs(args []string) {
	fs, project := newFlagSet("jobs")
	file := fs.String("f", "", "pipeline file (defaults to the project pipeline)")
	workflowName := fs.String("workflow", "", "workflow to list (defaults to the pipeline's main workflow)")
	fs.Parse(args)

	cfg := mustConfig(*project)
	def := mustDefinition(cfg, *file)
	name := pickWorkflow(def, *workflowName)
	wf := def.Workflows[name]

	width := 0
	for _, entry := range wf.Jobs {
		if len(entry.Name) > width {
			width = len(entry.Name)
		}
	}
	fmt.Printf("Workflow %s (%d jobs):\n", name, len(wf.Jobs))
	for _, entry := range wf.Jobs {
		job := def.Jobs[entry.Name]
		line := fmt.Sprintf("  %-*s  %-6s  %d steps", width, entry.Name, job.EffectiveExecutor(), len(job.Steps))
		if job.Image != "" {
			line += "  " + job.Image
		}
		if len(entry.Requires) > 0 {
			line += "  requires " + strings.Join(entry.Requires, ", ")
		}
		if entry.Approval {
			line += "  [approval]"
		}
		fmt.Println(line)
	}
}
