package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only pipeline schema version the runner accepts.
const SupportedVersion = 2

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// DependencyGraph maps workflow job names to the job names they require.
// The resolver treats the keys as the nodes of one workflow.
type DependencyGraph map[string][]string

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	if len(g) == 0 {
		return nil
	}
	out := make(DependencyGraph, len(g))
	for key, deps := range g {
		if len(deps) == 0 {
			out[key] = nil
			continue
		}
		clone := make([]string, len(deps))
		copy(clone, deps)
		out[key] = clone
	}
	return out
}

// Definition declares the full pipeline: jobs keyed by name plus the
// workflows that group and order them.
type Definition struct {
	Version   int                 `json:"version" yaml:"version"`
	Name      string              `json:"name,omitempty" yaml:"name,omitempty"`
	Variables map[string]string   `json:"variables,omitempty" yaml:"variables,omitempty"`
	Jobs      map[string]Job      `json:"jobs" yaml:"jobs"`
	Workflows map[string]Workflow `json:"workflows" yaml:"workflows"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := Definition{
		Version:   def.Version,
		Name:      def.Name,
		Variables: cloneStringMap(def.Variables),
	}
	if len(def.Jobs) > 0 {
		clone.Jobs = make(map[string]Job, len(def.Jobs))
		for name, job := range def.Jobs {
			clone.Jobs[name] = job.Clone()
		}
	}
	if len(def.Workflows) > 0 {
		clone.Workflows = make(map[string]Workflow, len(def.Workflows))
		for name, wf := range def.Workflows {
			clone.Workflows[name] = wf.Clone()
		}
	}
	return clone
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.Version != SupportedVersion {
		return fmt.Errorf("pipeline: unsupported version %d (want %d)", def.Version, SupportedVersion)
	}
	if len(def.Jobs) == 0 {
		return fmt.Errorf("pipeline: at least one job is required")
	}
	for name, job := range def.Jobs {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("pipeline: invalid job name %q", name)
		}
		if err := job.Validate(); err != nil {
			return fmt.Errorf("pipeline job %s: %w", name, err)
		}
	}
	if len(def.Workflows) == 0 {
		return fmt.Errorf("pipeline: at least one workflow is required")
	}
	for name, wf := range def.Workflows {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("pipeline: invalid workflow name %q", name)
		}
		if err := wf.validate(def.Jobs); err != nil {
			return fmt.Errorf("pipeline workflow %s: %w", name, err)
		}
	}
	return nil
}

// Normalized clones the definition, applies defaults, and validates the
// result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	if clone.Version == 0 {
		clone.Version = SupportedVersion
	}
	for name, job := range clone.Jobs {
		clone.Jobs[name] = job.normalized()
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// WorkflowNames returns the declared workflow names in sorted order.
func (def Definition) WorkflowNames() []string {
	names := make([]string, 0, len(def.Workflows))
	for name := range def.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultWorkflow picks the workflow to run when the caller names none: the
// only workflow if there is one, otherwise "build" when present, otherwise
// the first name alphabetically.
func (def Definition) DefaultWorkflow() string {
	names := def.WorkflowNames()
	switch {
	case len(names) == 0:
		return ""
	case len(names) == 1:
		return names[0]
	}
	for _, name := range names {
		if name == "build" {
			return name
		}
	}
	return names[0]
}

// Workflow groups jobs and declares their ordering constraints.
type Workflow struct {
	Jobs []WorkflowJob `json:"jobs" yaml:"jobs"`
}

// Clone returns a deep copy of the workflow.
func (wf Workflow) Clone() Workflow {
	clone := Workflow{}
	if len(wf.Jobs) > 0 {
		clone.Jobs = make([]WorkflowJob, len(wf.Jobs))
		for i, job := range wf.Jobs {
			clone.Jobs[i] = job.Clone()
		}
	}
	return clone
}

// JobNames returns the workflow's job names in declaration order.
func (wf Workflow) JobNames() []string {
	names := make([]string, 0, len(wf.Jobs))
	for _, job := range wf.Jobs {
		names = append(names, job.Name)
	}
	return names
}

// Graph builds the dependency graph implied by the requires lists.
func (wf Workflow) Graph() DependencyGraph {
	graph := make(DependencyGraph, len(wf.Jobs))
	for _, job := range wf.Jobs {
		graph[job.Name] = mergeDependencies(graph[job.Name], job.Requires)
	}
	return graph
}

// Entry returns the workflow entry for a job name.
func (wf Workflow) Entry(name string) (WorkflowJob, bool) {
	for _, job := range wf.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return WorkflowJob{}, false
}

func (wf Workflow) validate(jobs map[string]Job) error {
	if len(wf.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	seen := map[string]struct{}{}
	for idx, entry := range wf.Jobs {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("jobs[%d]: %w", idx, err)
		}
		if _, ok := jobs[entry.Name]; !ok {
			return fmt.Errorf("references unknown job %s", entry.Name)
		}
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("duplicate job %s", entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}
	for _, entry := range wf.Jobs {
		for _, dep := range entry.Requires {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("job %s requires %s which is not part of the workflow", entry.Name, dep)
			}
			if dep == entry.Name {
				return fmt.Errorf("job %s requires itself", entry.Name)
			}
		}
	}
	return checkAcyclic(wf.Graph())
}

// WorkflowJob references a job inside a workflow plus its constraints.
type WorkflowJob struct {
	Name     string   `json:"name" yaml:"name"`
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	Approval bool     `json:"approval,omitempty" yaml:"approval,omitempty"`
}

// UnmarshalYAML accepts both workflow entry spellings: a bare job name and a
// single-key mapping whose key is the job name and whose payload carries
// requires and approval.
func (job *WorkflowJob) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*job = WorkflowJob{Name: strings.TrimSpace(value.Value)}
		return nil
	case yaml.MappingNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("line %d: workflow entry must have exactly one key", value.Line)
		}
		key := value.Content[0]
		payload := value.Content[1]
		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: workflow entry key must be a scalar", key.Line)
		}
		var body struct {
			Requires []string `yaml:"requires"`
			Approval bool     `yaml:"approval"`
		}
		if err := decodeStrict(payload, &body, "requires", "approval"); err != nil {
			return fmt.Errorf("workflow entry %s: %w", key.Value, err)
		}
		*job = WorkflowJob{
			Name:     strings.TrimSpace(key.Value),
			Requires: body.Requires,
			Approval: body.Approval,
		}
		return nil
	default:
		return fmt.Errorf("line %d: workflow entry must be a job name or a single-key mapping", value.Line)
	}
}

// Clone returns a deep copy of the workflow entry.
func (job WorkflowJob) Clone() WorkflowJob {
	clone := WorkflowJob{Name: job.Name, Approval: job.Approval}
	if len(job.Requires) > 0 {
		clone.Requires = cloneStringSlice(job.Requires)
	}
	return clone
}

// Validate ensures the entry is usable.
func (job WorkflowJob) Validate() error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	deps := append([]string{}, job.Requires...)
	sort.Strings(deps)
	for i := 1; i < len(deps); i++ {
		if deps[i] == deps[i-1] {
			return fmt.Errorf("job %s has duplicate requirement %s", job.Name, deps[i])
		}
	}
	return nil
}

// Executor names accepted by Job.Executor.
const (
	ExecutorDocker = "docker"
	ExecutorLocal  = "local"
	ExecutorSSH    = "ssh"
)

// Job declares one named sequence of steps plus the environment it runs in.
type Job struct {
	Image       string            `json:"image,omitempty" yaml:"image,omitempty"`
	Executor    string            `json:"executor,omitempty" yaml:"executor,omitempty"`
	Host        string            `json:"host,omitempty" yaml:"host,omitempty"`
	WorkingDir  string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Steps       []Step            `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the job.
func (job Job) Clone() Job {
	clone := Job{
		Image:       job.Image,
		Executor:    job.Executor,
		Host:        job.Host,
		WorkingDir:  job.WorkingDir,
		Environment: cloneStringMap(job.Environment),
	}
	if len(job.Steps) > 0 {
		clone.Steps = make([]Step, len(job.Steps))
		for i, step := range job.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}

// EffectiveExecutor resolves the executor for this job: an explicit choice
// wins, otherwise docker when an image is declared and local when not.
func (job Job) EffectiveExecutor() string {
	if job.Executor != "" {
		return job.Executor
	}
	if job.Image != "" {
		return ExecutorDocker
	}
	return ExecutorLocal
}

// Validate ensures the job is executable.
func (job Job) Validate() error {
	switch job.Executor {
	case "", ExecutorDocker, ExecutorLocal, ExecutorSSH:
	default:
		return fmt.Errorf("unknown executor %q", job.Executor)
	}
	if job.EffectiveExecutor() == ExecutorDocker && job.Image == "" {
		return fmt.Errorf("docker executor requires an image")
	}
	if job.EffectiveExecutor() == ExecutorSSH && job.Host == "" {
		return fmt.Errorf("ssh executor requires a host")
	}
	if len(job.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for idx, step := range job.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", idx, err)
		}
	}
	return nil
}

func (job Job) normalized() Job {
	clone := job.Clone()
	clone.Image = strings.TrimSpace(clone.Image)
	clone.Executor = strings.ToLower(strings.TrimSpace(clone.Executor))
	clone.Host = strings.TrimSpace(clone.Host)
	return clone
}

func mergeDependencies(existing, adds []string) []string {
	if len(adds) == 0 && len(existing) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, id := range existing {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	for _, id := range adds {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
