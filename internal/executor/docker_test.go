package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDocker struct {
	pullErr    error
	inspectErr error
	exitCode   int64
	waitErr    error
	logs       []byte

	pulled  []string
	created *container.Config
	hostCfg *container.HostConfig
	renamed string
	started bool
	removed bool
}

func (f *fakeDocker) ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, refStr)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	if f.inspectErr != nil {
		return types.ImageInspect{}, nil, f.inspectErr
	}
	return types.ImageInspect{ID: "sha256:deadbeef"}, nil, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.created = config
	f.hostCfg = hostConfig
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerRename(ctx context.Context, containerID, newContainerName string) error {
	f.renamed = newContainerName
	return nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	f.started = true
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return waitCh, errCh
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	f.removed = true
	return nil
}

func multiplexedStdout(t *testing.T, line string) []byte {
	t.Helper()
	var raw bytes.Buffer
	w := stdcopy.NewStdWriter(&raw, stdcopy.Stdout)
	if _, err := w.Write([]byte(line)); err != nil {
		t.Fatalf("build log stream: %v", err)
	}
	return raw.Bytes()
}

func TestDockerExecRunsContainerLifecycle(t *testing.T) {
	fake := &fakeDocker{exitCode: 2, logs: multiplexedStdout(t, "collected 42 items\n")}
	docker := newDockerWithAPI(fake, "cimg/python:3.8")
	var stdout bytes.Buffer
	code, err := docker.Exec(context.Background(), Spec{
		Job:        "Testing",
		Command:    "python -m pytest",
		Env:        map[string]string{"CI": "true"},
		WorkingDir: "/workspace",
		Mounts:     []Mount{{Host: "/tmp/ws", Target: "/workspace"}},
		Stdout:     &stdout,
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if code != 2 {
		t.Fatalf("expected container exit code 2, got %d", code)
	}
	if len(fake.pulled) != 1 || fake.pulled[0] != "cimg/python:3.8" {
		t.Fatalf("unexpected pulls: %+v", fake.pulled)
	}
	if fake.created == nil || fake.created.Image != "cimg/python:3.8" {
		t.Fatalf("unexpected container config: %+v", fake.created)
	}
	wantCmd := []string{"sh", "-c", "python -m pytest"}
	if len(fake.created.Cmd) != 3 || fake.created.Cmd[0] != wantCmd[0] || fake.created.Cmd[2] != wantCmd[2] {
		t.Fatalf("unexpected cmd: %+v", fake.created.Cmd)
	}
	if fake.created.WorkingDir != "/workspace" {
		t.Fatalf("working dir not set: %+v", fake.created)
	}
	if len(fake.hostCfg.Binds) != 1 || fake.hostCfg.Binds[0] != "/tmp/ws:/workspace" {
		t.Fatalf("unexpected binds: %+v", fake.hostCfg.Binds)
	}
	if !fake.started || !fake.removed {
		t.Fatalf("expected container started and removed, got started=%v removed=%v", fake.started, fake.removed)
	}
	if !strings.HasPrefix(fake.renamed, "boltci-testing-") {
		t.Fatalf("unexpected container name %q", fake.renamed)
	}
	if !strings.Contains(stdout.String(), "collected 42 items") {
		t.Fatalf("expected logs streamed, got %q", stdout.String())
	}
}

func TestDockerExecFallsBackToLocalImage(t *testing.T) {
	fake := &fakeDocker{pullErr: errors.New("registry unreachable")}
	docker := newDockerWithAPI(fake, "")
	code, err := docker.Exec(context.Background(), Spec{
		Job:     "Formatting",
		Image:   "cimg/python:3.8",
		Command: "flake8 .",
	})
	if err != nil {
		t.Fatalf("expected cached image fallback, got %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestDockerExecFailsWhenImageUnavailable(t *testing.T) {
	fake := &fakeDocker{pullErr: errors.New("registry unreachable"), inspectErr: errors.New("no such image")}
	docker := newDockerWithAPI(fake, "")
	if _, err := docker.Exec(context.Background(), Spec{Job: "x", Image: "ghost:1", Command: "true"}); err == nil {
		t.Fatalf("expected pull failure")
	}
}

func TestDockerExecRequiresImage(t *testing.T) {
	docker := newDockerWithAPI(&fakeDocker{}, "")
	if _, err := docker.Exec(context.Background(), Spec{Job: "x", Command: "true"}); err == nil {
		t.Fatalf("expected missing image error")
	}
}

func TestNormalizeImageDefaultsTag(t *testing.T) {
	cases := map[string]string{
		"cimg/python":            "cimg/python:latest",
		"cimg/python:3.8":        "cimg/python:3.8",
		"registry:5000/repo/img": "registry:5000/repo/img:latest",
	}
	for in, want := range cases {
		if got := normalizeImage(in, ""); got != want {
			t.Fatalf("normalizeImage(%q) = %q, want %q", in, got, want)
		}
	}
	if got := normalizeImage("", "cimg/base"); got != "cimg/base:latest" {
		t.Fatalf("fallback image mismatch: %q", got)
	}
}

func TestContainerNameSlug(t *testing.T) {
	name := containerName("Build-Docs", "0123456789abcdef")
	if name != "boltci-build-docs-0123456789ab" {
		t.Fatalf("unexpected name %q", name)
	}
	if got := containerName("???", "abc"); got != "boltci-job-abc" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
