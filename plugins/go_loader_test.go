package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const goPluginSource = `package main

func Commands() ([]map[string]any, error) {
	return []map[string]any{
		{
			"name":        "coverage-upload",
			"description": "Push test coverage to codecov",
			"steps": []any{
				map[string]any{
					"run": map[string]any{
						"name":    "upload coverage",
						"command": "codecov --token=$CODECOV_TOKEN",
					},
				},
			},
		},
	}, nil
}`

func TestLoadGoCommandDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "coverage.go"), []byte(goPluginSource), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	files, err := LoadGoCommandDir(dir)
	if err != nil {
		t.Fatalf("load go commands: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 command, got %d", len(files))
	}
	if files[0].Command.Name != "coverage-upload" {
		t.Fatalf("unexpected name: %+v", files[0].Command)
	}
	if len(files[0].Command.Steps) != 1 || files[0].Command.Steps[0].Command != "codecov --token=$CODECOV_TOKEN" {
		t.Fatalf("unexpected steps: %+v", files[0].Command.Steps)
	}
}

func TestLoadGoCommandDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken plugin: %v", err)
	}
	if _, err := LoadGoCommandDir(dir); err == nil {
		t.Fatalf("expected error for missing Commands function")
	}
}
