package step

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/artifact"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/executor"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logbook"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/observability"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
)

// ExecutorFactory builds the executor a job runs on.
type ExecutorFactory func(job pipeline.Job) (executor.Executor, error)

// Runner executes claimed jobs step by step. The first failing step halts
// the job; the steps after it are recorded as skipped, never run. Every step
// writes its output to its own log file under the run's log directory.
type Runner struct {
	cfg      *config.Config
	registry *Registry
	store    *artifact.Store
	cache    *artifact.Cache
	exec     ExecutorFactory
	log      zerolog.Logger
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRegistry swaps the step handler registry.
func WithRegistry(registry *Registry) RunnerOption {
	return func(r *Runner) { r.registry = registry }
}

// WithExecutorFactory overrides executor construction, mostly for tests.
func WithExecutorFactory(factory ExecutorFactory) RunnerOption {
	return func(r *Runner) { r.exec = factory }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = clock }
}

// NewRunner builds a job runner over the project configuration.
func NewRunner(cfg *config.Config, opts ...RunnerOption) *Runner {
	runner := &Runner{
		cfg:      cfg,
		registry: Builtin(),
		store:    artifact.NewStore(cfg),
		cache:    artifact.NewCache(cfg),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	runner.exec = runner.defaultExecutor
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// RunJob executes all steps of one claimed job and reports the outcome.
// Failures come back inside the result; RunJob itself never errors so the
// engine always receives something to record.
func (r *Runner) RunJob(ctx context.Context, claim engine.WorkClaim) engine.JobResult {
	started := r.now()
	book, err := logbook.ForRun(r.cfg, claim.RunID)
	if err != nil {
		r.log.Warn().Err(err).Str("run", claim.RunID).Msg("journal unavailable")
	}
	journal := book.Job(claim.ID)

	workspace := r.cfg.JobWorkspaceDir(claim.RunID, claim.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return r.brokenJob(claim, started, fmt.Errorf("prepare workspace: %w", err))
	}
	logDir := filepath.Join(r.cfg.RunLogsDir(claim.RunID), claim.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return r.brokenJob(claim, started, fmt.Errorf("prepare log dir: %w", err))
	}

	exec, err := r.exec(claim.Job)
	if err != nil {
		journal.Error("cannot start: %v", err)
		return r.brokenJob(claim, started, err)
	}

	sc := &Context{
		Config:    r.cfg,
		RunID:     claim.RunID,
		Workflow:  claim.Workflow,
		Job:       claim.ID,
		Spec:      claim.Job,
		Workspace: workspace,
		Env:       r.jobEnv(claim),
		Exec:      exec,
		Artifacts: r.store,
		Cache:     r.cache,
		Shared:    artifact.NewWorkspace(r.cfg, claim.RunID),
		Journal:   journal,
	}

	journal.Info("started on %s (%d steps)", exec.Name(), len(claim.Job.Steps))
	r.log.Info().
		Str("run", claim.RunID).
		Str("job", claim.ID).
		Str("executor", exec.Name()).
		Int("steps", len(claim.Job.Steps)).
		Msg("job started")

	steps := make([]engine.StepResult, 0, len(claim.Job.Steps))
	var failed *engine.StepResult
	for idx, st := range claim.Job.Steps {
		if failed != nil {
			steps = append(steps, engine.StepResult{
				Name:    st.DisplayName(),
				Type:    string(st.Type),
				Status:  engine.StatusSkipped,
				Message: fmt.Sprintf("not run: %q failed", failed.Name),
			})
			continue
		}
		result := r.runStep(ctx, sc, claim, logDir, idx, st)
		steps = append(steps, result)
		if result.Status == engine.StatusFailed {
			failed = &steps[len(steps)-1]
		}
	}

	finished := r.now()
	outcome := engine.JobResult{
		Status:     engine.StatusSucceeded,
		StartedAt:  started,
		FinishedAt: finished,
		Steps:      steps,
	}
	if failed != nil {
		outcome.Status = engine.StatusFailed
		outcome.ExitCode = failed.ExitCode
		outcome.Message = fmt.Sprintf("step %q failed", failed.Name)
		if failed.ExitCode != 0 {
			outcome.Message = fmt.Sprintf("step %q failed (exit %d)", failed.Name, failed.ExitCode)
		}
		journal.Error("%s", outcome.Message)
	} else {
		journal.Info("succeeded in %s", finished.Sub(started).Round(time.Millisecond))
	}
	observability.RecordJob(claim.Workflow, claim.ID, string(outcome.Status), finished.Sub(started))
	return outcome
}

func (r *Runner) runStep(ctx context.Context, sc *Context, claim engine.WorkClaim, logDir string, idx int, st pipeline.Step) engine.StepResult {
	name := st.DisplayName()
	result := engine.StepResult{
		Name:      name,
		Type:      string(st.Type),
		StartedAt: r.now(),
	}

	logName := fmt.Sprintf("%02d-%s.log", idx+1, logSlug(name))
	file, err := os.Create(filepath.Join(logDir, logName))
	if err != nil {
		sc.Log = io.Discard
	} else {
		sc.Log = file
		result.LogFile = filepath.Join(claim.ID, logName)
		defer file.Close()
	}

	handler, err := r.registry.Resolve(st.Type)
	if err != nil {
		result.Status = engine.StatusFailed
		result.ExitCode = 1
		result.Message = err.Error()
		result.FinishedAt = r.now()
		return result
	}

	outcome, err := handler(ctx, sc, st)
	result.FinishedAt = r.now()
	result.ExitCode = outcome.ExitCode
	result.Message = outcome.Message

	switch {
	case err != nil:
		result.Status = engine.StatusFailed
		if result.ExitCode == 0 {
			result.ExitCode = 1
		}
		result.Message = err.Error()
		fmt.Fprintln(sc.log(), err.Error())
		sc.Journal.Error("step %q: %v", name, err)
	case outcome.ExitCode != 0:
		result.Status = engine.StatusFailed
		if result.Message == "" {
			result.Message = fmt.Sprintf("exit %d", outcome.ExitCode)
		}
		sc.Journal.Error("step %q exited %d", name, outcome.ExitCode)
	default:
		result.Status = engine.StatusSucceeded
		sc.Journal.Info("step %q done", name)
	}

	r.log.Debug().
		Str("run", claim.RunID).
		Str("job", claim.ID).
		Str("step", name).
		Str("status", string(result.Status)).
		Int("exit_code", result.ExitCode).
		Msg("step finished")
	observability.RecordStep(claim.ID, string(st.Type), string(result.Status))
	return result
}

// brokenJob reports a job that never got to run any step.
func (r *Runner) brokenJob(claim engine.WorkClaim, started time.Time, err error) engine.JobResult {
	r.log.Error().Err(err).Str("run", claim.RunID).Str("job", claim.ID).Msg("job aborted")
	return engine.JobResult{
		Status:     engine.StatusFailed,
		ExitCode:   1,
		Message:    err.Error(),
		Error:      err.Error(),
		StartedAt:  started,
		FinishedAt: r.now(),
	}
}

// jobEnv assembles the environment every run step starts from: the
// allowlisted host variables, the runner's own identification, then the
// job's declared environment. Container and remote jobs skip the host
// defaults so host paths stay out of foreign filesystems.
func (r *Runner) jobEnv(claim engine.WorkClaim) map[string]string {
	passthrough := r.cfg.Runner.Runner.EnvPassthrough
	var base map[string]string
	if claim.Job.EffectiveExecutor() == pipeline.ExecutorLocal {
		base = executor.BaseEnv(passthrough)
	} else {
		base = executor.PassthroughEnv(passthrough)
	}
	runtime := map[string]string{
		"CI":              "true",
		"BOLTCI":          "true",
		"BOLTCI_RUN_ID":   claim.RunID,
		"BOLTCI_WORKFLOW": claim.Workflow,
		"BOLTCI_JOB":      claim.ID,
	}
	return executor.MergeEnv(base, runtime, claim.Job.Environment)
}

// defaultExecutor maps a job declaration onto a concrete executor.
func (r *Runner) defaultExecutor(job pipeline.Job) (executor.Executor, error) {
	switch job.EffectiveExecutor() {
	case pipeline.ExecutorDocker:
		docker, err := executor.NewDocker(r.cfg.Runner.Docker.DefaultImage)
		if err != nil {
			return nil, fmt.Errorf("step: docker executor: %w", err)
		}
		return docker, nil
	case pipeline.ExecutorSSH:
		host, ok := r.cfg.SSHHost(job.Host)
		if !ok {
			return nil, fmt.Errorf("step: ssh host %q is not configured", job.Host)
		}
		return &executor.SSH{
			Addr:           host.Addr,
			User:           host.User,
			KeyFile:        host.KeyFile,
			KnownHostsFile: host.KnownHosts,
		}, nil
	default:
		return executor.NewLocal(r.cfg.Shell()), nil
	}
}

// logSlug keeps step log file names filesystem-safe.
func logSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-.")
	if slug == "" {
		return "step"
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug
}
