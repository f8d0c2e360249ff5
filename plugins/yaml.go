package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// ParseCommandYAML decodes one command payload, then validates and
// normalizes it.
func ParseCommandYAML(data []byte) (pipeline.Command, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return pipeline.Command{}, fmt.Errorf("plugin: command payload is empty")
	}
	var cmd pipeline.Command
	if err := yaml.Unmarshal(data, &cmd); err != nil {
		return pipeline.Command{}, fmt.Errorf("plugin: decode command: %w", err)
	}
	if err := ValidateCommand(cmd); err != nil {
		return pipeline.Command{}, err
	}
	return NormalizeCommand(cmd), nil
}

// LoadCommandFile reads a YAML file from disk and returns the parsed command.
func LoadCommandFile(path string) (CommandFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CommandFile{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	cmd, err := ParseCommandYAML(data)
	if err != nil {
		return CommandFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return CommandFile{Command: cmd, Path: filepath.Clean(path)}, nil
}

// LoadCommandDir scans a directory for *.yaml commands and returns the parsed
// definitions. Missing directories are treated as "no commands" to simplify
// startup.
func LoadCommandDir(dir string) ([]CommandFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}

	var files []CommandFile
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		file, err := LoadCommandFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
