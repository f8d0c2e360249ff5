package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDefinitionParses(t *testing.T) {
	def, err := DefaultDefinition()
	if err != nil {
		t.Fatalf("default pipeline should parse: %v", err)
	}
	for _, name := range []string{"Formatting", "Testing", "Build-Docs", "Install-pkg"} {
		job, ok := def.Jobs[name]
		if !ok {
			t.Fatalf("default pipeline should declare job %s", name)
		}
		if job.EffectiveExecutor() != ExecutorDocker {
			t.Fatalf("job %s should run in docker, got %s", name, job.EffectiveExecutor())
		}
		if job.Image != "cimg/python:3.8" {
			t.Fatalf("job %s should use the python image, got %q", name, job.Image)
		}
		if job.Steps[0].Type != StepCheckout {
			t.Fatalf("job %s should start with checkout", name)
		}
	}

	wf, ok := def.Workflows["build"]
	if !ok {
		t.Fatalf("default pipeline should declare the build workflow")
	}
	if len(wf.Jobs) != 4 {
		t.Fatalf("build workflow should hold all four jobs, got %d", len(wf.Jobs))
	}
	for _, entry := range wf.Jobs {
		if len(entry.Requires) != 0 {
			t.Fatalf("job %s should not require anything, got %v", entry.Name, entry.Requires)
		}
	}
}

func TestEnsureDefaultFileKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	if err := os.WriteFile(path, []byte("version: 2\n"), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := EnsureDefaultFile(path); err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "version: 2\n" {
		t.Fatalf("existing pipeline file should not be overwritten")
	}
}

func TestEnsureDefaultFileWritesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	if err := EnsureDefaultFile(path); err != nil {
		t.Fatalf("unexpected ensure error: %v", err)
	}
	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if def.Name != "pytorch-lightning-bolts" {
		t.Fatalf("unexpected default pipeline name %q", def.Name)
	}
}
