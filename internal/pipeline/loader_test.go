package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefinitionInterpolatesVariables(t *testing.T) {
	const payload = `
version: 2
variables:
  python-image: cimg/python:3.8
jobs:
  lint:
    image: "{{python-image}}"
    steps:
      - run: flake8 .
workflows:
  build:
    jobs: [lint]
`
	def, err := ParseDefinition([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if got := def.Jobs["lint"].Image; got != "cimg/python:3.8" {
		t.Fatalf("variable should interpolate into image, got %q", got)
	}
}

func TestParseDefinitionLeavesChecksumTokens(t *testing.T) {
	const payload = `
version: 2
variables:
  python-image: cimg/python:3.8
jobs:
  test:
    image: "{{python-image}}"
    steps:
      - restore_cache:
          key: v1-deps-{{ checksum "requirements.txt" }}
      - run: pytest
workflows:
  build:
    jobs: [test]
`
	def, err := ParseDefinition([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	key := def.Jobs["test"].Steps[0].Key
	if !strings.Contains(key, `{{ checksum "requirements.txt" }}`) {
		t.Fatalf("checksum token should survive interpolation, got %q", key)
	}
}

func TestParseDefinitionRejectsUnknownTopLevelKey(t *testing.T) {
	const payload = `
version: 2
job:
  lint:
    steps:
      - run: flake8 .
`
	_, err := ParseDefinition([]byte(payload))
	if err == nil {
		t.Fatalf("expected error for unknown top-level key")
	}
	if !strings.Contains(err.Error(), "job") {
		t.Fatalf("unexpected error for unknown key: %v", err)
	}
}

func TestParseDefinitionRejectsUnknownStepKey(t *testing.T) {
	const payload = `
version: 2
jobs:
  lint:
    steps:
      - run:
          name: Lint
          comand: flake8 .
workflows:
  build:
    jobs: [lint]
`
	_, err := ParseDefinition([]byte(payload))
	if err == nil {
		t.Fatalf("expected error for misspelled step key")
	}
	if !strings.Contains(err.Error(), `unknown key "comand"`) {
		t.Fatalf("unexpected error for step key: %v", err)
	}
}

func TestParseDefinitionAcceptsAllStepSpellings(t *testing.T) {
	const payload = `
version: 2
jobs:
  everything:
    steps:
      - checkout
      - run: make lint
      - run:
          name: Tests
          command: make test
          environment:
            VERBOSE: "1"
      - restore_cache:
          key: deps-v1
      - save_cache:
          key: deps-v1
          paths: [.cache]
      - persist_to_workspace:
          root: .
          paths: [dist]
      - attach_workspace:
          at: .
      - store_artifacts:
          path: dist
          destination: packages
workflows:
  build:
    jobs: [everything]
`
	def, err := ParseDefinition([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	steps := def.Jobs["everything"].Steps
	if len(steps) != 8 {
		t.Fatalf("expected 8 steps, got %d", len(steps))
	}
	if steps[0].Type != StepCheckout {
		t.Fatalf("bare scalar should parse as checkout, got %s", steps[0].Type)
	}
	if steps[1].Type != StepRun || steps[1].Command != "make lint" {
		t.Fatalf("scalar run payload should carry the command, got %+v", steps[1])
	}
	if steps[2].Name != "Tests" || steps[2].Environment["VERBOSE"] != "1" {
		t.Fatalf("mapping run payload lost fields: %+v", steps[2])
	}
	if steps[5].Type != StepPersistWorkspace || steps[5].Paths[0] != "dist" {
		t.Fatalf("persist_to_workspace lost fields: %+v", steps[5])
	}
	if steps[7].Destination != "packages" {
		t.Fatalf("store_artifacts lost destination: %+v", steps[7])
	}
}

func TestParseDefinitionRejectsUnexpandedCustomStep(t *testing.T) {
	const payload = `
version: 2
jobs:
  lint:
    steps:
      - setup_python
workflows:
  build:
    jobs: [lint]
`
	_, err := ParseDefinition([]byte(payload))
	if err == nil {
		t.Fatalf("expected error for unexpanded custom step")
	}
	if !strings.Contains(err.Error(), `unknown step type "setup_python"`) {
		t.Fatalf("unexpected error for custom step: %v", err)
	}
}

type stubCommands map[string]Command

func (s stubCommands) Lookup(name string) (Command, bool) {
	cmd, ok := s[name]
	return cmd, ok
}

func TestParseDefinitionWithExpandsCommands(t *testing.T) {
	commands := stubCommands{
		"install_deps": {
			Name: "install_deps",
			Parameters: map[string]Parameter{
				"file": {Default: "requirements.txt"},
			},
			Steps: []Step{
				{Type: StepRun, Name: "Install {{file}}", Command: "pip install --user -r {{file}}"},
			},
		},
	}
	const payload = `
version: 2
jobs:
  test:
    steps:
      - checkout
      - install_deps:
          file: requirements-dev.txt
      - install_deps
      - run: pytest
workflows:
  build:
    jobs: [test]
`
	def, err := ParseDefinitionWith([]byte(payload), commands)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	steps := def.Jobs["test"].Steps
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps after expansion, got %d", len(steps))
	}
	if steps[1].Command != "pip install --user -r requirements-dev.txt" {
		t.Fatalf("parameter should substitute into command, got %q", steps[1].Command)
	}
	if steps[1].Name != "Install requirements-dev.txt" {
		t.Fatalf("parameter should substitute into name, got %q", steps[1].Name)
	}
	if steps[2].Command != "pip install --user -r requirements.txt" {
		t.Fatalf("default parameter should apply, got %q", steps[2].Command)
	}
}

func TestParseDefinitionWithRejectsMissingRequiredParameter(t *testing.T) {
	commands := stubCommands{
		"upload": {
			Name: "upload",
			Parameters: map[string]Parameter{
				"bucket": {Required: true},
			},
			Steps: []Step{{Type: StepRun, Command: "put {{bucket}}"}},
		},
	}
	const payload = `
version: 2
jobs:
  publish:
    steps:
      - upload
workflows:
  build:
    jobs: [publish]
`
	_, err := ParseDefinitionWith([]byte(payload), commands)
	if err == nil {
		t.Fatalf("expected error for missing required parameter")
	}
	if !strings.Contains(err.Error(), "missing required parameter bucket") {
		t.Fatalf("unexpected error for required parameter: %v", err)
	}
}

func TestParseDefinitionWithRejectsUnknownParameter(t *testing.T) {
	commands := stubCommands{
		"upload": {
			Name:  "upload",
			Steps: []Step{{Type: StepRun, Command: "put"}},
		},
	}
	const payload = `
version: 2
jobs:
  publish:
    steps:
      - upload:
          bucket: dist
workflows:
  build:
    jobs: [publish]
`
	_, err := ParseDefinitionWith([]byte(payload), commands)
	if err == nil {
		t.Fatalf("expected error for unknown parameter")
	}
	if !strings.Contains(err.Error(), "unknown parameter bucket") {
		t.Fatalf("unexpected error for unknown parameter: %v", err)
	}
}

func TestParseDefinitionWithCapsExpansionDepth(t *testing.T) {
	commands := stubCommands{
		"loop": {
			Name:  "loop",
			Steps: []Step{{Type: StepType("loop")}},
		},
	}
	const payload = `
version: 2
jobs:
  stuck:
    steps:
      - loop
workflows:
  build:
    jobs: [stuck]
`
	_, err := ParseDefinitionWith([]byte(payload), commands)
	if err == nil {
		t.Fatalf("expected error for recursive command")
	}
	if !strings.Contains(err.Error(), "expansion exceeded depth") {
		t.Fatalf("unexpected error for recursive command: %v", err)
	}
}

func TestLoadFileReportsPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "missing.yml") {
		t.Fatalf("error should name the file: %v", err)
	}
}

func TestLoadFileParsesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	if err := os.WriteFile(path, []byte(DefaultPipelineYAML), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(def.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(def.Jobs))
	}
}
