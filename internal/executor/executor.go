// Package executor runs single commands inside a job environment: a local
// shell, a docker container per command, or an ssh session on a configured
// host. Callers pick the executor per job and feed it one command per step.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// DefaultShell interprets run commands when neither the step nor the runner
// settings name one.
const DefaultShell = "sh"

// KillExitCode is reported when a command is torn down on cancellation,
// matching the 128+SIGKILL convention.
const KillExitCode = 137

// Spec describes one command execution. Image and Mounts only matter to the
// docker executor, the others ignore them.
type Spec struct {
	Job        string
	Image      string
	Command    string
	Shell      string
	WorkingDir string
	Env        map[string]string
	Mounts     []Mount
	Stdout     io.Writer
	Stderr     io.Writer
}

// Mount binds a host path into a container.
type Mount struct {
	Host   string
	Target string
}

// Executor runs one command and reports its exit code. A non-nil error means
// the command could not be run or observed at all; command failures are plain
// non-zero exit codes.
type Executor interface {
	Name() string
	Exec(ctx context.Context, spec Spec) (int, error)
}

func (s Spec) shell() string {
	if shell := strings.TrimSpace(s.Shell); shell != "" {
		return shell
	}
	return DefaultShell
}

func (s Spec) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return io.Discard
}

func (s Spec) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return io.Discard
}

// defaultPassthrough is always forwarded from the host into local and ssh
// commands. Everything else must be listed in runner.env_passthrough.
var defaultPassthrough = []string{"PATH", "HOME", "LANG", "TMPDIR"}

// BaseEnv builds the host-derived slice of a job environment. The environment
// starts empty and only allowlisted variables are copied in, so jobs cannot
// observe stray host state.
func BaseEnv(passthrough []string) map[string]string {
	env := PassthroughEnv(defaultPassthrough)
	for key, value := range PassthroughEnv(passthrough) {
		env[key] = value
	}
	return env
}

// PassthroughEnv copies only the named variables from the host, without the
// defaults. Container and remote commands use this so host paths never leak
// into a foreign filesystem.
func PassthroughEnv(names []string) map[string]string {
	env := make(map[string]string, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}
	return env
}

// MergeEnv layers environments left to right, later maps winning.
func MergeEnv(layers ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, layer := range layers {
		for key, value := range layer {
			merged[key] = value
		}
	}
	return merged
}

// flattenEnv renders an environment map as sorted KEY=value pairs.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	flat := make([]string, 0, len(keys))
	for _, key := range keys {
		flat = append(flat, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return flat
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
