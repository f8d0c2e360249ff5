package step

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/artifact"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/executor"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logbook"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// ContainerWorkspace is where the job workspace is mounted inside docker
// containers.
const ContainerWorkspace = "/workspace"

// Context carries shared runtime dependencies into every step handler. One
// Context serves one job execution; Log is repointed at the current step's
// log file by the runner.
type Context struct {
	Config   *config.Config
	RunID    string
	Workflow string
	Job      string
	Spec     pipeline.Job

	// Workspace is the job's working tree on the host. File-shuffling steps
	// always act here; run steps see it as their working directory, mounted
	// for docker jobs.
	Workspace string

	Env       map[string]string
	Exec      executor.Executor
	Artifacts *artifact.Store
	Cache     *artifact.Cache
	Shared    *artifact.Workspace
	Journal   *logbook.JobLog
	Log       io.Writer
}

func (sc *Context) log() io.Writer {
	if sc.Log != nil {
		return sc.Log
	}
	return io.Discard
}

// workdir resolves the working directory a run step executes in. Docker jobs
// run inside the mounted workspace, local jobs in the host workspace, ssh
// jobs wherever the job declares.
func (sc *Context) workdir(st pipeline.Step) string {
	base := ""
	switch sc.Spec.EffectiveExecutor() {
	case pipeline.ExecutorDocker:
		base = sc.Spec.WorkingDir
		if base == "" {
			base = ContainerWorkspace
		}
	case pipeline.ExecutorSSH:
		base = sc.Spec.WorkingDir
	default:
		base = sc.Spec.WorkingDir
		if base == "" {
			base = sc.Workspace
		} else if !filepath.IsAbs(base) {
			base = filepath.Join(sc.Workspace, base)
		}
	}
	dir := strings.TrimSpace(st.WorkingDir)
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}

// mounts returns the docker bind mounts for this job.
func (sc *Context) mounts() []executor.Mount {
	if sc.Spec.EffectiveExecutor() != pipeline.ExecutorDocker {
		return nil
	}
	return []executor.Mount{{Host: sc.Workspace, Target: ContainerWorkspace}}
}

func (sc *Context) shell(st pipeline.Step) string {
	if st.Shell != "" {
		return st.Shell
	}
	if sc.Config != nil {
		if shell := sc.Config.Shell(); shell != "" {
			return shell
		}
	}
	return executor.DefaultShell
}
