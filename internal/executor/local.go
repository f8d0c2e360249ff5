package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Local runs commands in a host shell with an isolated environment.
type Local struct {
	Shell string
}

// NewLocal returns a local executor using the given shell, or sh when empty.
func NewLocal(shell string) *Local {
	return &Local{Shell: shell}
}

func (l *Local) Name() string { return "local" }

// Exec runs the command under the shell with only the declared environment.
// The command gets its own process group so cancellation kills the whole
// tree, not just the shell.
func (l *Local) Exec(ctx context.Context, spec Spec) (int, error) {
	if spec.Command == "" {
		return 0, fmt.Errorf("executor: empty command")
	}
	shell := spec.Shell
	if shell == "" {
		shell = l.Shell
	}
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell, "-c", spec.Command)
	cmd.Dir = spec.WorkingDir
	cmd.Env = flattenEnv(spec.Env)
	cmd.Stdout = spec.stdout()
	cmd.Stderr = spec.stderr()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return 127, fmt.Errorf("executor: start %s: %w", shell, err)
		}
		return 1, fmt.Errorf("executor: start %s: %w", shell, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return KillExitCode, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("executor: wait: %w", err)
	}
}
