package step

import (
	"path/filepath"
	"testing"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

func TestContextWorkdirDocker(t *testing.T) {
	sc := &Context{
		Spec:      pipeline.Job{Image: "cimg/python:3.8"},
		Workspace: "/tmp/ws",
	}
	if got := sc.workdir(pipeline.Step{}); got != ContainerWorkspace {
		t.Fatalf("workdir = %q, want %q", got, ContainerWorkspace)
	}
	if got := sc.workdir(pipeline.Step{WorkingDir: "docs"}); got != filepath.Join(ContainerWorkspace, "docs") {
		t.Fatalf("workdir = %q", got)
	}
	sc.Spec.WorkingDir = "/repo"
	if got := sc.workdir(pipeline.Step{}); got != "/repo" {
		t.Fatalf("workdir = %q, want /repo", got)
	}
}

func TestContextWorkdirLocal(t *testing.T) {
	sc := &Context{
		Spec:      pipeline.Job{Executor: pipeline.ExecutorLocal},
		Workspace: "/tmp/ws",
	}
	if got := sc.workdir(pipeline.Step{}); got != "/tmp/ws" {
		t.Fatalf("workdir = %q, want workspace", got)
	}
	sc.Spec.WorkingDir = "pkg"
	if got := sc.workdir(pipeline.Step{}); got != filepath.Join("/tmp/ws", "pkg") {
		t.Fatalf("workdir = %q", got)
	}
	if got := sc.workdir(pipeline.Step{WorkingDir: "/abs"}); got != "/abs" {
		t.Fatalf("absolute step dir should win, got %q", got)
	}
}

func TestContextMountsOnlyForDocker(t *testing.T) {
	docker := &Context{Spec: pipeline.Job{Image: "cimg/python:3.8"}, Workspace: "/tmp/ws"}
	mounts := docker.mounts()
	if len(mounts) != 1 || mounts[0].Host != "/tmp/ws" || mounts[0].Target != ContainerWorkspace {
		t.Fatalf("unexpected mounts %+v", mounts)
	}
	local := &Context{Spec: pipeline.Job{Executor: pipeline.ExecutorLocal}, Workspace: "/tmp/ws"}
	if got := local.mounts(); got != nil {
		t.Fatalf("local jobs should not mount, got %+v", got)
	}
}
