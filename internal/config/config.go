// internal/config/config.go
//
// This package handles runner configuration and the .boltci directory
// structure. Every project that uses boltci gets a .boltci/ folder created in
// its root: pipeline definition, runner settings, and all run state live there.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// ProjectDirName is the name of the directory we create in each project.
	ProjectDirName = ".boltci"

	// PipelineFileName is the pipeline definition inside .boltci/.
	PipelineFileName = "pipeline.yml"

	// RunnerFileName is the runner settings file inside .boltci/.
	RunnerFileName = "runner.toml"

	// EnvRoot overrides the project directory the runner operates on.
	EnvRoot = "BOLTCI_ROOT"

	// EnvMaxParallel overrides runner.max_parallel per invocation.
	EnvMaxParallel = "BOLTCI_MAX_PARALLEL"
)

const defaultRunnerTOML = `# boltci runner settings

[runner]
# Maximum jobs in flight at once. 0 removes the limit.
max_parallel = 2
shell = "sh"
# Host environment variables forwarded into job steps.
env_passthrough = ["CODECOV_TOKEN"]

[docker]
enabled = true
default_image = "cimg/python:3.8"

# Remote hosts for jobs that declare executor: ssh.
# [[ssh.hosts]]
# name = "builder-1"
# addr = "10.0.0.5:22"
# user = "ci"
# key_file = "~/.ssh/id_ed25519"
# known_hosts = "~/.ssh/known_hosts"

[server]
addr = ":9090"
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
`

// RunnerSettings bounds job dispatch and shell selection.
type RunnerSettings struct {
	MaxParallel    int      `toml:"max_parallel"`
	Shell          string   `toml:"shell"`
	EnvPassthrough []string `toml:"env_passthrough"`
}

// DockerSettings controls the container executor.
type DockerSettings struct {
	Enabled      bool   `toml:"enabled"`
	DefaultImage string `toml:"default_image"`
}

// SSHHost describes one remote execution target.
type SSHHost struct {
	Name       string `toml:"name"`
	Addr       string `toml:"addr"`
	User       string `toml:"user"`
	KeyFile    string `toml:"key_file"`
	KnownHosts string `toml:"known_hosts"`
}

// SSHSettings lists remote hosts for ssh-executed jobs.
type SSHSettings struct {
	Hosts []SSHHost `toml:"hosts"`
}

// ServerSettings configures the status API.
type ServerSettings struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LogSettings carries the configured log level name.
type LogSettings struct {
	Level string `toml:"level"`
}

// RunnerConfig models .boltci/runner.toml.
type RunnerConfig struct {
	Runner RunnerSettings `toml:"runner"`
	Docker DockerSettings `toml:"docker"`
	SSH    SSHSettings    `toml:"ssh"`
	Server ServerSettings `toml:"server"`
	Log    LogSettings    `toml:"log"`
}

// Config holds the resolved runtime configuration for boltci.
type Config struct {
	// ProjectDir is the directory whose pipeline the runner executes.
	ProjectDir string

	// Root is ProjectDir/.boltci.
	Root string

	Runner RunnerConfig
}

// InitProjectDir creates the .boltci directory structure in the given project
// directory and seeds the runner settings file when missing.
//
// Structure created:
// .boltci/
// ├── commands/    <- reusable command plugins (*.yml, *.go)
// ├── state/       <- persisted run state
// │   └── runs/
// ├── logs/        <- per-run step logs and journal
// ├── workspace/   <- per-run job working directories
// ├── artifacts/   <- stored artifacts per run
// └── cache/       <- step caches keyed by checksum
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, ProjectDirName)

	dirs := []string{
		filepath.Join(root, "commands"),
		filepath.Join(root, "state"),
		filepath.Join(root, "state", "runs"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "workspace"),
		filepath.Join(root, "artifacts"),
		filepath.Join(root, "cache"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureRunnerConfig(filepath.Join(root, RunnerFileName))
}

// NewConfig resolves the project directory, loads runner settings, and applies
// environment overrides. BOLTCI_ROOT replaces projectDir when set.
func NewConfig(projectDir string) (*Config, error) {
	if override := strings.TrimSpace(os.Getenv(EnvRoot)); override != "" {
		projectDir = override
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}

	cfg := &Config{
		ProjectDir: abs,
		Root:       filepath.Join(abs, ProjectDirName),
		Runner:     defaultRunnerConfig(),
	}

	if err := cfg.loadRunnerConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

// PipelinePath returns the on-disk location of the pipeline definition.
func (c *Config) PipelinePath() string {
	return filepath.Join(c.Root, PipelineFileName)
}

// RunnerConfigPath returns the on-disk location of the runner settings file.
func (c *Config) RunnerConfigPath() string {
	return filepath.Join(c.Root, RunnerFileName)
}

// CommandsDir returns the directory scanned for command plugins.
func (c *Config) CommandsDir() string {
	return filepath.Join(c.Root, "commands")
}

// StateDir returns the path to the state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.Root, "state")
}

// RunsDir returns the directory holding archived run snapshots.
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateDir(), "runs")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Root, "logs")
}

// RunLogsDir returns the log directory for one run.
func (c *Config) RunLogsDir(runID string) string {
	return filepath.Join(c.LogsDir(), runID)
}

// JournalPath returns the run journal location for one run.
func (c *Config) JournalPath(runID string) string {
	return filepath.Join(c.RunLogsDir(runID), "journal.log")
}

// WorkspaceDir returns the root of all run workspaces.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.Root, "workspace")
}

// RunWorkspaceDir returns the workspace root for one run.
func (c *Config) RunWorkspaceDir(runID string) string {
	return filepath.Join(c.WorkspaceDir(), runID)
}

// JobWorkspaceDir returns the isolated working directory for one job.
func (c *Config) JobWorkspaceDir(runID, job string) string {
	return filepath.Join(c.RunWorkspaceDir(runID), job)
}

// SharedWorkspaceDir returns the cross-job workspace for one run.
func (c *Config) SharedWorkspaceDir(runID string) string {
	return filepath.Join(c.RunWorkspaceDir(runID), "_shared")
}

// ArtifactsDir returns the root of all stored artifacts.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.Root, "artifacts")
}

// RunArtifactsDir returns the artifact directory for one run.
func (c *Config) RunArtifactsDir(runID string) string {
	return filepath.Join(c.ArtifactsDir(), runID)
}

// CacheDir returns the step cache root.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Root, "cache")
}

// MaxParallel returns the configured dispatch limit.
func (c *Config) MaxParallel() int {
	return c.Runner.Runner.MaxParallel
}

// Shell returns the shell used for run steps.
func (c *Config) Shell() string {
	return c.Runner.Runner.Shell
}

// SSHHost looks up a configured remote host by name.
func (c *Config) SSHHost(name string) (SSHHost, bool) {
	for _, host := range c.Runner.SSH.Hosts {
		if host.Name == name {
			return host, true
		}
	}
	return SSHHost{}, false
}

func (c *Config) loadRunnerConfig() error {
	path := c.RunnerConfigPath()
	var parsed RunnerConfig
	meta, err := toml.DecodeFile(path, &parsed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config: %s: unknown key %s", path, undecoded[0].String())
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	c.Runner = parsed
	return nil
}

func (c *Config) applyEnvOverrides() {
	if raw := strings.TrimSpace(os.Getenv(EnvMaxParallel)); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			c.Runner.Runner.MaxParallel = v
		}
	}
}

func defaultRunnerConfig() RunnerConfig {
	cfg := RunnerConfig{}
	cfg.applyDefaults()
	return cfg
}

func (rc *RunnerConfig) applyDefaults() {
	if rc.Runner.MaxParallel == 0 {
		rc.Runner.MaxParallel = 2
	}
	if rc.Runner.Shell == "" {
		rc.Runner.Shell = "sh"
	}
	if rc.Server.Addr == "" {
		rc.Server.Addr = ":9090"
	}
	if rc.Log.Level == "" {
		rc.Log.Level = "info"
	}
}

func (rc *RunnerConfig) normalize() {
	rc.Runner.Shell = strings.TrimSpace(rc.Runner.Shell)
	rc.Docker.DefaultImage = strings.TrimSpace(rc.Docker.DefaultImage)
	rc.Server.Addr = strings.TrimSpace(rc.Server.Addr)
	rc.Log.Level = strings.ToLower(strings.TrimSpace(rc.Log.Level))
	for i := range rc.SSH.Hosts {
		rc.SSH.Hosts[i].normalize()
	}
	if rc.Runner.MaxParallel < 0 {
		rc.Runner.MaxParallel = 0
	}
}

func (rc RunnerConfig) validate() error {
	if rc.Runner.Shell == "" {
		return fmt.Errorf("runner.shell is required")
	}
	seen := map[string]struct{}{}
	for i, host := range rc.SSH.Hosts {
		if err := host.validate(); err != nil {
			return fmt.Errorf("ssh.hosts[%d]: %w", i, err)
		}
		if _, dup := seen[host.Name]; dup {
			return fmt.Errorf("ssh.hosts: duplicate host %s", host.Name)
		}
		seen[host.Name] = struct{}{}
	}
	return nil
}

func (h *SSHHost) normalize() {
	h.Name = strings.TrimSpace(h.Name)
	h.Addr = strings.TrimSpace(h.Addr)
	h.User = strings.TrimSpace(h.User)
	h.KeyFile = expandHome(h.KeyFile)
	h.KnownHosts = expandHome(h.KnownHosts)
}

func (h SSHHost) validate() error {
	if h.Name == "" {
		return fmt.Errorf("name is required")
	}
	if h.Addr == "" {
		return fmt.Errorf("addr is required for host %s", h.Name)
	}
	if h.User == "" {
		return fmt.Errorf("user is required for host %s", h.Name)
	}
	return nil
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func ensureRunnerConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultRunnerTOML), 0644)
}
