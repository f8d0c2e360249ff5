package plugins

import (
	"strings"
	"testing"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

func TestValidateCommand(t *testing.T) {
	cmd := pipeline.Command{
		Name:        "install-deps",
		Description: "Install python requirements with caching",
		Parameters: map[string]pipeline.Parameter{
			"file": {Default: "requirements.txt"},
		},
		Steps: []pipeline.Step{
			{Type: pipeline.StepRestoreCache, Key: "deps-{{file}}"},
			{Type: pipeline.StepRun, Command: "pip install -r {{file}}"},
		},
	}
	if err := ValidateCommand(cmd); err != nil {
		t.Fatalf("expected command to validate, got %v", err)
	}
}

func TestValidateCommandFailures(t *testing.T) {
	tests := []struct {
		name string
		cmd  pipeline.Command
		msg  string
	}{
		{
			name: "missing name",
			cmd: pipeline.Command{
				Steps: []pipeline.Step{{Type: pipeline.StepRun, Command: "true"}},
			},
			msg: "name is required",
		},
		{
			name: "invalid name",
			cmd: pipeline.Command{
				Name:  "Install Deps",
				Steps: []pipeline.Step{{Type: pipeline.StepRun, Command: "true"}},
			},
			msg: "invalid command name",
		},
		{
			name: "shadows builtin",
			cmd: pipeline.Command{
				Name:  "save_cache",
				Steps: []pipeline.Step{{Type: pipeline.StepRun, Command: "true"}},
			},
			msg: "shadows a builtin",
		},
		{
			name: "no steps",
			cmd: pipeline.Command{
				Name: "install-deps",
			},
			msg: "at least one step",
		},
		{
			name: "bad parameter name",
			cmd: pipeline.Command{
				Name:       "install-deps",
				Parameters: map[string]pipeline.Parameter{"File Name": {}},
				Steps:      []pipeline.Step{{Type: pipeline.StepRun, Command: "true"}},
			},
			msg: "invalid parameter name",
		},
		{
			name: "step without type",
			cmd: pipeline.Command{
				Name:  "install-deps",
				Steps: []pipeline.Step{{Command: "true"}},
			},
			msg: "type is required",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateCommand(tc.cmd); err == nil || !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("expected error containing %q, got %v", tc.msg, err)
			}
		})
	}
}

func TestNormalizeCommandTrims(t *testing.T) {
	cmd := pipeline.Command{
		Name:        "  lint  ",
		Description: " run flake8 ",
		Parameters: map[string]pipeline.Parameter{
			"  dir ": {Default: "."},
			"   ":    {},
		},
		Steps: []pipeline.Step{{Type: pipeline.StepRun, Command: "flake8 {{dir}}"}},
	}
	normalized := NormalizeCommand(cmd)
	if normalized.Name != "lint" || normalized.Description != "run flake8" {
		t.Fatalf("unexpected normalization: %+v", normalized)
	}
	if len(normalized.Parameters) != 1 {
		t.Fatalf("expected blank parameter keys to be dropped, got %v", normalized.Parameters)
	}
	if _, ok := normalized.Parameters["dir"]; !ok {
		t.Fatalf("expected trimmed parameter key, got %v", normalized.Parameters)
	}
	normalized.Steps[0].Command = "changed"
	if cmd.Steps[0].Command != "flake8 {{dir}}" {
		t.Fatalf("normalize must not alias the source steps")
	}
}
