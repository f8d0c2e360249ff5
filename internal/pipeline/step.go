package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepType discriminates the step union. Anything outside the builtin set is
// treated as a custom command name and must be expanded before validation.
type StepType string

// Builtin step types.
const (
	StepRun              StepType = "run"
	StepCheckout         StepType = "checkout"
	StepRestoreCache     StepType = "restore_cache"
	StepSaveCache        StepType = "save_cache"
	StepStoreArtifacts   StepType = "store_artifacts"
	StepPersistWorkspace StepType = "persist_to_workspace"
	StepAttachWorkspace  StepType = "attach_workspace"
)

// Builtin reports whether the type is handled by the runner itself rather
// than a custom command.
func (t StepType) Builtin() bool {
	switch t {
	case StepRun, StepCheckout, StepRestoreCache, StepSaveCache,
		StepStoreArtifacts, StepPersistWorkspace, StepAttachWorkspace:
		return true
	}
	return false
}

// Step is one unit of work inside a job. Which fields are meaningful depends
// on Type; Params carries the arguments of a custom command invocation until
// expansion replaces it with builtin steps.
type Step struct {
	Type StepType `json:"type" yaml:"type"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`

	// run
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Shell       string            `json:"shell,omitempty" yaml:"shell,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	WorkingDir  string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`

	// restore_cache, save_cache
	Key   string   `json:"key,omitempty" yaml:"key,omitempty"`
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// persist_to_workspace, attach_workspace
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
	At   string `json:"at,omitempty" yaml:"at,omitempty"`

	// store_artifacts
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// custom command invocation, pre-expansion
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	clone := s
	clone.Environment = cloneStringMap(s.Environment)
	clone.Paths = cloneStringSlice(s.Paths)
	clone.Params = cloneStringMap(s.Params)
	return clone
}

// DisplayName returns the label shown in logs and status output.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Type == StepRun && s.Command != "" {
		line := s.Command
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		return strings.TrimSpace(line)
	}
	return string(s.Type)
}

// Validate ensures a fully expanded step is executable.
func (s Step) Validate() error {
	switch s.Type {
	case StepRun:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("run step requires a command")
		}
	case StepCheckout, StepAttachWorkspace:
	case StepRestoreCache:
		if s.Key == "" {
			return fmt.Errorf("restore_cache step requires a key")
		}
	case StepSaveCache:
		if s.Key == "" {
			return fmt.Errorf("save_cache step requires a key")
		}
		if len(s.Paths) == 0 {
			return fmt.Errorf("save_cache step requires at least one path")
		}
	case StepStoreArtifacts:
		if s.Path == "" {
			return fmt.Errorf("store_artifacts step requires a path")
		}
	case StepPersistWorkspace:
		if len(s.Paths) == 0 {
			return fmt.Errorf("persist_to_workspace step requires at least one path")
		}
	case "":
		return fmt.Errorf("step type is required")
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// UnmarshalYAML accepts the three step spellings: a bare scalar
// ("- checkout"), a single-key mapping with a scalar payload
// ("- run: flake8 ."), and a single-key mapping with a mapping payload.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		name := strings.TrimSpace(value.Value)
		if name == "" {
			return fmt.Errorf("line %d: empty step", value.Line)
		}
		*s = Step{Type: StepType(name)}
		return nil
	case yaml.MappingNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("line %d: step mapping must have exactly one key", value.Line)
		}
		key := value.Content[0]
		payload := value.Content[1]
		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: step key must be a scalar", key.Line)
		}
		return s.decodePayload(StepType(strings.TrimSpace(key.Value)), payload)
	default:
		return fmt.Errorf("line %d: step must be a scalar or a single-key mapping", value.Line)
	}
}

func (s *Step) decodePayload(kind StepType, payload *yaml.Node) error {
	if payload.Kind == yaml.ScalarNode {
		if kind != StepRun {
			return fmt.Errorf("line %d: %s step does not take a scalar payload", payload.Line, kind)
		}
		*s = Step{Type: StepRun, Command: payload.Value}
		return nil
	}
	if payload.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s step payload must be a mapping", payload.Line, kind)
	}

	switch kind {
	case StepRun:
		var body struct {
			Name        string            `yaml:"name"`
			Command     string            `yaml:"command"`
			Shell       string            `yaml:"shell"`
			Environment map[string]string `yaml:"environment"`
			WorkingDir  string            `yaml:"working_directory"`
		}
		if err := decodeStrict(payload, &body, "name", "command", "shell", "environment", "working_directory"); err != nil {
			return fmt.Errorf("run step: %w", err)
		}
		*s = Step{
			Type:        StepRun,
			Name:        body.Name,
			Command:     body.Command,
			Shell:       body.Shell,
			Environment: body.Environment,
			WorkingDir:  body.WorkingDir,
		}
	case StepRestoreCache:
		var body struct {
			Key string `yaml:"key"`
		}
		if err := decodeStrict(payload, &body, "key"); err != nil {
			return fmt.Errorf("restore_cache step: %w", err)
		}
		*s = Step{Type: StepRestoreCache, Key: body.Key}
	case StepSaveCache:
		var body struct {
			Key   string   `yaml:"key"`
			Paths []string `yaml:"paths"`
		}
		if err := decodeStrict(payload, &body, "key", "paths"); err != nil {
			return fmt.Errorf("save_cache step: %w", err)
		}
		*s = Step{Type: StepSaveCache, Key: body.Key, Paths: body.Paths}
	case StepStoreArtifacts:
		var body struct {
			Path        string `yaml:"path"`
			Destination string `yaml:"destination"`
		}
		if err := decodeStrict(payload, &body, "path", "destination"); err != nil {
			return fmt.Errorf("store_artifacts step: %w", err)
		}
		*s = Step{Type: StepStoreArtifacts, Path: body.Path, Destination: body.Destination}
	case StepPersistWorkspace:
		var body struct {
			Root  string   `yaml:"root"`
			Paths []string `yaml:"paths"`
		}
		if err := decodeStrict(payload, &body, "root", "paths"); err != nil {
			return fmt.Errorf("persist_to_workspace step: %w", err)
		}
		*s = Step{Type: StepPersistWorkspace, Root: body.Root, Paths: body.Paths}
	case StepAttachWorkspace:
		var body struct {
			At string `yaml:"at"`
		}
		if err := decodeStrict(payload, &body, "at"); err != nil {
			return fmt.Errorf("attach_workspace step: %w", err)
		}
		*s = Step{Type: StepAttachWorkspace, At: body.At}
	case StepCheckout:
		var body struct {
			Path string `yaml:"path"`
		}
		if err := decodeStrict(payload, &body, "path"); err != nil {
			return fmt.Errorf("checkout step: %w", err)
		}
		*s = Step{Type: StepCheckout, Path: body.Path}
	default:
		params, err := decodeParams(payload)
		if err != nil {
			return fmt.Errorf("%s step: %w", kind, err)
		}
		*s = Step{Type: kind, Params: params}
	}
	return nil
}

// decodeStrict decodes a mapping node and rejects keys outside the allowed
// set, so typos in a pipeline file fail loudly instead of being dropped.
func decodeStrict(node *yaml.Node, out interface{}, allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		set[key] = struct{}{}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: mapping key must be a scalar", key.Line)
		}
		if _, ok := set[key.Value]; !ok {
			return fmt.Errorf("line %d: unknown key %q", key.Line, key.Value)
		}
	}
	return node.Decode(out)
}

func decodeParams(node *yaml.Node) (map[string]string, error) {
	params := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		value := node.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: parameter name must be a scalar", key.Line)
		}
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: parameter %q must be a scalar", value.Line, key.Value)
		}
		params[key.Value] = value.Value
	}
	return params, nil
}
