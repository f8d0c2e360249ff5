package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CommandSource resolves custom command names referenced by job steps.
type CommandSource interface {
	Lookup(name string) (Command, bool)
}

// Command is a reusable step sequence parameterized by {{param}} tokens.
type Command struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Steps       []Step               `json:"steps" yaml:"steps"`
}

// Parameter declares one command parameter.
type Parameter struct {
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// maxExpandDepth caps nested command expansion.
const maxExpandDepth = 8

// ParseDefinition parses, interpolates, and normalizes a pipeline document.
// Custom command steps survive unexpanded and fail validation.
func ParseDefinition(data []byte) (Definition, error) {
	return ParseDefinitionWith(data, nil)
}

// ParseDefinitionWith is ParseDefinition plus custom command expansion
// against the given source.
func ParseDefinitionWith(data []byte, commands CommandSource) (Definition, error) {
	interpolated, err := interpolateVariables(data)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %w", err)
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return Definition{}, fmt.Errorf("pipeline: empty document")
		}
		return Definition{}, fmt.Errorf("pipeline: parse: %w", err)
	}

	if commands != nil {
		for name, job := range def.Jobs {
			expanded, err := expandSteps(job.Steps, commands, 0)
			if err != nil {
				return Definition{}, fmt.Errorf("pipeline job %s: %w", name, err)
			}
			job.Steps = expanded
			def.Jobs[name] = job
		}
	}

	return def.Normalized()
}

// LoadFile reads and parses the pipeline file at path.
func LoadFile(path string) (Definition, error) {
	return LoadFileWith(path, nil)
}

// LoadFileWith is LoadFile plus custom command expansion.
func LoadFileWith(path string, commands CommandSource) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	def, err := ParseDefinitionWith(data, commands)
	if err != nil {
		return Definition{}, fmt.Errorf("%w (file %s)", err, path)
	}
	return def, nil
}

// interpolateVariables substitutes {{name}} tokens declared under the
// top-level variables block across the whole document. Tokens with inner
// whitespace, such as cache checksum expressions, are left alone.
func interpolateVariables(data []byte) ([]byte, error) {
	var head struct {
		Variables map[string]string `yaml:"variables"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse variables: %w", err)
	}
	if len(head.Variables) == 0 {
		return data, nil
	}

	names := make([]string, 0, len(head.Variables))
	for name := range head.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	out := data
	for _, name := range names {
		token := []byte("{{" + name + "}}")
		out = bytes.ReplaceAll(out, token, []byte(head.Variables[name]))
	}
	return out, nil
}

func expandSteps(steps []Step, commands CommandSource, depth int) ([]Step, error) {
	if depth > maxExpandDepth {
		return nil, fmt.Errorf("command expansion exceeded depth %d", maxExpandDepth)
	}

	out := make([]Step, 0, len(steps))
	for _, step := range steps {
		if step.Type.Builtin() {
			out = append(out, step)
			continue
		}
		cmd, ok := commands.Lookup(string(step.Type))
		if !ok {
			// Leave it for Validate to flag.
			out = append(out, step)
			continue
		}
		params, err := resolveParams(cmd, step.Params)
		if err != nil {
			return nil, err
		}
		substituted := make([]Step, 0, len(cmd.Steps))
		for _, inner := range cmd.Steps {
			substituted = append(substituted, applyParams(inner, params))
		}
		nested, err := expandSteps(substituted, commands, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

func resolveParams(cmd Command, given map[string]string) (map[string]string, error) {
	for name := range given {
		if _, ok := cmd.Parameters[name]; !ok {
			return nil, fmt.Errorf("command %s: unknown parameter %s", cmd.Name, name)
		}
	}
	out := make(map[string]string, len(cmd.Parameters))
	for name, param := range cmd.Parameters {
		if value, ok := given[name]; ok {
			out[name] = value
			continue
		}
		if param.Required {
			return nil, fmt.Errorf("command %s: missing required parameter %s", cmd.Name, name)
		}
		out[name] = param.Default
	}
	return out, nil
}

func applyParams(step Step, params map[string]string) Step {
	clone := step.Clone()
	sub := func(in string) string {
		for name, value := range params {
			in = strings.ReplaceAll(in, "{{"+name+"}}", value)
		}
		return in
	}
	clone.Name = sub(clone.Name)
	clone.Command = sub(clone.Command)
	clone.Shell = sub(clone.Shell)
	clone.WorkingDir = sub(clone.WorkingDir)
	clone.Key = sub(clone.Key)
	clone.Root = sub(clone.Root)
	clone.At = sub(clone.At)
	clone.Path = sub(clone.Path)
	clone.Destination = sub(clone.Destination)
	for i, path := range clone.Paths {
		clone.Paths[i] = sub(path)
	}
	for name, value := range clone.Environment {
		clone.Environment[name] = sub(value)
	}
	return clone
}
