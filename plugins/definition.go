package plugins

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// commandNamePattern matches names that can appear as a step type inside a
// pipeline document.
var commandNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// CommandFile pairs a parsed command with its on-disk source.
type CommandFile struct {
	Command pipeline.Command
	Path    string
}

// NormalizeCommand returns a trimmed, copy-on-write variant of the command.
func NormalizeCommand(cmd pipeline.Command) pipeline.Command {
	clone := pipeline.Command{
		Name:        strings.TrimSpace(cmd.Name),
		Description: strings.TrimSpace(cmd.Description),
	}
	if len(cmd.Parameters) > 0 {
		clone.Parameters = make(map[string]pipeline.Parameter, len(cmd.Parameters))
		for name, param := range cmd.Parameters {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				continue
			}
			clone.Parameters[trimmed] = param
		}
	}
	if len(cmd.Steps) > 0 {
		clone.Steps = make([]pipeline.Step, len(cmd.Steps))
		for i, step := range cmd.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}

// ValidateCommand ensures the command is well-formed enough to expand into
// job steps. Step bodies are only shallow-checked here because parameter
// tokens may still occupy required fields; the pipeline loader validates the
// expanded result.
func ValidateCommand(cmd pipeline.Command) error {
	normalized := NormalizeCommand(cmd)
	if normalized.Name == "" {
		return fmt.Errorf("plugin: command name is required")
	}
	if !commandNamePattern.MatchString(normalized.Name) {
		return fmt.Errorf("plugin: invalid command name %q", normalized.Name)
	}
	if pipeline.StepType(normalized.Name).Builtin() {
		return fmt.Errorf("plugin %s: name shadows a builtin step type", normalized.Name)
	}
	for name := range normalized.Parameters {
		if !commandNamePattern.MatchString(name) {
			return fmt.Errorf("plugin %s: invalid parameter name %q", normalized.Name, name)
		}
	}
	if len(normalized.Steps) == 0 {
		return fmt.Errorf("plugin %s: at least one step is required", normalized.Name)
	}
	for idx, step := range normalized.Steps {
		if strings.TrimSpace(string(step.Type)) == "" {
			return fmt.Errorf("plugin %s: steps[%d]: type is required", normalized.Name, idx)
		}
	}
	return nil
}
