package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goCommandFuncName = "Commands"

// LoadGoCommandDir evaluates every .go file in dir and collects commands
// declared via Commands(). Scripts may return either []map[string]any or
// ([]map[string]any, error).
func LoadGoCommandDir(dir string) ([]CommandFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		scripts = append(scripts, filepath.Join(trimmed, entry.Name()))
	}

	var files []CommandFile
	for _, script := range scripts {
		loaded, err := evalCommandScript(script)
		if err != nil {
			return nil, err
		}
		files = append(files, loaded...)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// evalCommandScript runs one script under yaegi and converts whatever its
// Commands() function yields into parsed command definitions.
func evalCommandScript(path string) ([]CommandFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(goCommandFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s() ([]map[string]any, error): %w", path, goCommandFuncName, err)
	}
	raw, err := callCommandsFunc(fnValue)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return commandFilesFromMaps(path, raw)
}

// callCommandsFunc invokes the script's Commands function, accepting both
// documented signatures.
func callCommandsFunc(value reflect.Value) ([]map[string]any, error) {
	if !value.IsValid() {
		return nil, fmt.Errorf("missing %s function", goCommandFuncName)
	}
	switch fn := value.Interface().(type) {
	case func() ([]map[string]any, error):
		return fn()
	case func() []map[string]any:
		return fn(), nil
	default:
		return nil, fmt.Errorf("%s must return ([]map[string]any[, error])", goCommandFuncName)
	}
}

func commandFilesFromMaps(path string, raw []map[string]any) ([]CommandFile, error) {
	files := make([]CommandFile, 0, len(raw))
	for idx, entry := range raw {
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s command[%d]: %w", path, idx, err)
		}
		parsed, err := ParseCommandYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s command[%d]: %w", path, idx, err)
		}
		files = append(files, CommandFile{Command: parsed, Path: fmt.Sprintf("%s#%d", path, idx+1)})
	}
	return files, nil
}
