package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/artifact"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/executor"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// checkoutSkip lists directory names never copied into a job workspace. The
// runner's own state directory would otherwise recurse into itself.
var checkoutSkip = []string{config.ProjectDirName, ".git"}

func checkoutHandler(_ context.Context, sc *Context, _ pipeline.Step) (Outcome, error) {
	written, err := artifact.CopyTree(sc.Config.ProjectDir, sc.Workspace, checkoutSkip...)
	if err != nil {
		return Outcome{}, fmt.Errorf("checkout: %w", err)
	}
	message := fmt.Sprintf("checked out project (%d bytes)", written)
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}

func runHandler(ctx context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	spec := executor.Spec{
		Job:        sc.Job,
		Image:      sc.Spec.Image,
		Command:    st.Command,
		Shell:      sc.shell(st),
		WorkingDir: sc.workdir(st),
		Env:        executor.MergeEnv(sc.Env, st.Environment),
		Mounts:     sc.mounts(),
		Stdout:     sc.log(),
		Stderr:     sc.log(),
	}
	code, err := sc.Exec.Exec(ctx, spec)
	if err != nil {
		return Outcome{ExitCode: code}, err
	}
	return Outcome{ExitCode: code}, nil
}

func restoreCacheHandler(_ context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	key, err := sc.Cache.ResolveKey(st.Key, sc.Workspace)
	if err != nil {
		return Outcome{}, err
	}
	hit, err := sc.Cache.Restore(key, sc.Workspace)
	if err != nil {
		return Outcome{}, err
	}
	message := fmt.Sprintf("cache miss for %s", key)
	if hit {
		message = fmt.Sprintf("restored cache %s", key)
	}
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}

func saveCacheHandler(_ context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	key, err := sc.Cache.ResolveKey(st.Key, sc.Workspace)
	if err != nil {
		return Outcome{}, err
	}
	saved, err := sc.Cache.Save(key, sc.Workspace, st.Paths)
	if err != nil {
		return Outcome{}, err
	}
	message := fmt.Sprintf("cache %s already exists", key)
	if saved {
		message = fmt.Sprintf("saved cache %s", key)
	}
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}

func storeArtifactsHandler(_ context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	entry, err := sc.Artifacts.Save(sc.RunID, sc.Job, sc.Workspace, st.Path, st.Destination)
	if err != nil {
		return Outcome{}, err
	}
	message := fmt.Sprintf("stored %s (%d bytes)", entry.Destination, entry.SizeBytes)
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}

func persistWorkspaceHandler(_ context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	if err := sc.Shared.Persist(sc.Workspace, st.Root, st.Paths); err != nil {
		return Outcome{}, err
	}
	message := fmt.Sprintf("persisted %s to workspace", strings.Join(st.Paths, ", "))
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}

func attachWorkspaceHandler(_ context.Context, sc *Context, st pipeline.Step) (Outcome, error) {
	if err := sc.Shared.Attach(sc.Workspace, st.At); err != nil {
		return Outcome{}, err
	}
	message := "attached shared workspace"
	fmt.Fprintln(sc.log(), message)
	return Outcome{Message: message}, nil
}
