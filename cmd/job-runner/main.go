// cmd/job-runner/main.go
//
// job-runner executes a single pipeline job outside the run engine: no
// dependency resolution, no persisted state, just the job's steps in order
// with the usual halt-on-first-failure semantics. Meant for debugging jobs
// before committing them to a workflow.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logging"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/step"
	"github.com/sarthakpati/pytorch-lightning-bolts/plugins"
)

func main() {
	pipelineFile := flag.String("f", "", "pipeline file (defaults to the project pipeline)")
	jobName := flag.String("job", "", "job to execute")
	list := flag.Bool("list", false, "list the pipeline's jobs and exit")
	jsonOut := flag.Bool("json", false, "print the job result as JSON")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "environment override for the job (KEY=VALUE, repeatable)")
	flag.Parse()

	logging.ConfigureRuntime("job-runner")

	project := strings.TrimSpace(*projectDir)
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
		project = cwd
	}
	cfg, err := config.NewConfig(project)
	if err != nil {
		die("%v", err)
	}
	logging.ApplyLevel(cfg.Runner.Log.Level)
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		die("init %s: %v", config.ProjectDirName, err)
	}

	def, err := loadDefinition(cfg, *pipelineFile)
	if err != nil {
		die("%v", err)
	}

	if *list {
		listJobs(def)
		return
	}
	if strings.TrimSpace(*jobName) == "" {
		die("-job is required (or -list to see what is available)")
	}
	job, ok := def.Jobs[*jobName]
	if !ok {
		die("job %q is not defined (try -list)", *jobName)
	}
	if len(sets) > 0 {
		job = job.Clone()
		if job.Environment == nil {
			job.Environment = make(map[string]string, len(sets))
		}
		for key, value := range sets {
			job.Environment[key] = value
		}
	}

	runner := step.NewRunner(cfg, step.WithLogger(logging.For("step")))
	claim := engine.WorkClaim{
		RunID:    "adhoc-" + uuid.NewString()[:8],
		Workflow: workflowFor(def, *jobName),
		ID:       *jobName,
		Job:      job,
	}
	result := runner.RunJob(context.Background(), claim)

	if *jsonOut {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			die("encode result: %v", err)
		}
		fmt.Println(string(encoded))
	} else {
		printResult(claim, result)
	}

	if result.Status == engine.StatusFailed {
		if result.ExitCode > 0 {
			os.Exit(result.ExitCode)
		}
		os.Exit(1)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadDefinition parses the pipeline with the project's command library in
// scope so custom steps expand the same way they do for full runs.
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

func listJobs(def pipeline.Definition) {
	names := make([]string, 0, len(def.Jobs))
	for name := range def.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	width := 0
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}
	for _, name := range names {
		job := def.Jobs[name]
		line := fmt.Sprintf("%-*s  %-6s  %d steps", width, name, job.EffectiveExecutor(), len(job.Steps))
		if job.Image != "" {
			line += "  " + job.Image
		}
		fmt.Println(line)
	}
}

// workflowFor names the first workflow containing the job, for the runner's
// injected environment. An unlisted job runs under the "adhoc" label.
func workflowFor(def pipeline.Definition, job string) string {
	for _, name := range def.WorkflowNames() {
		if _, ok := def.Workflows[name].Entry(job); ok {
			return name
		}
	}
	return "adhoc"
}

func printResult(claim engine.WorkClaim, result engine.JobResult) {
	line := fmt.Sprintf("Job %s: %s", claim.ID, result.Status)
	if elapsed := result.Duration(); elapsed > 0 {
		line += " in " + elapsed.Round(time.Millisecond).String()
	}
	fmt.Println(line)
	if result.Message != "" && result.Status != engine.StatusSucceeded {
		fmt.Println("  " + result.Message)
	}
	for idx, st := range result.Steps {
		stepLine := fmt.Sprintf("  %2d. %-30s %s", idx+1, st.Name, st.Status)
		if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
			if elapsed := st.FinishedAt.Sub(st.StartedAt); elapsed > 0 {
				stepLine += "  " + elapsed.Round(time.Millisecond).String()
			}
		}
		if st.Status == engine.StatusFailed && st.ExitCode != 0 {
			stepLine += fmt.Sprintf("  (exit %d)", st.ExitCode)
		}
		fmt.Println(stepLine)
	}
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}
