package plugins

import (
	"fmt"
	"sort"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// Library is an immutable set of discovered commands keyed by name. It
// satisfies pipeline.CommandSource so the loader can expand custom steps. A
// nil Library resolves nothing.
type Library struct {
	commands map[string]pipeline.Command
	sources  map[string]string
}

// Lookup returns the command registered under name.
func (l *Library) Lookup(name string) (pipeline.Command, bool) {
	if l == nil {
		return pipeline.Command{}, false
	}
	cmd, ok := l.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.commands))
	for name := range l.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the file a command was loaded from.
func (l *Library) Source(name string) string {
	if l == nil {
		return ""
	}
	return l.sources[name]
}

// Len returns the number of registered commands.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.commands)
}

// Discover loads YAML and Go command definitions under the project commands
// directory and returns them as a library.
func Discover(cfg *config.Config) (*Library, error) {
	if cfg == nil {
		return &Library{}, nil
	}
	files, err := loadAllCommandFiles(cfg.CommandsDir())
	if err != nil {
		return nil, err
	}
	lib := &Library{
		commands: make(map[string]pipeline.Command, len(files)),
		sources:  make(map[string]string, len(files)),
	}
	for _, file := range files {
		name := file.Command.Name
		if existing, ok := lib.sources[name]; ok {
			return nil, fmt.Errorf("plugin: duplicate command %s (%s and %s)", name, existing, file.Path)
		}
		lib.commands[name] = file.Command
		lib.sources[name] = file.Path
	}
	return lib, nil
}

func loadAllCommandFiles(dir string) ([]CommandFile, error) {
	yamlCmds, err := LoadCommandDir(dir)
	if err != nil {
		return nil, err
	}
	goCmds, err := LoadGoCommandDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlCmds, goCmds...), nil
}
