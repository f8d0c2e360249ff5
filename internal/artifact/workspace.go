package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

// Workspace moves files between a job workspace and the run's shared
// workspace, backing persist and attach steps.
type Workspace struct {
	shared string
}

// NewWorkspace returns the shared workspace handle for one run.
func NewWorkspace(cfg *config.Config, runID string) *Workspace {
	return &Workspace{shared: cfg.SharedWorkspaceDir(runID)}
}

// Persist copies paths from the job workspace into the shared workspace.
// Root is resolved against the job workspace, paths against root. Declared
// paths must exist; persisting nothing is a job bug worth failing on.
func (w *Workspace) Persist(jobRoot, root string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("artifact: persist needs at least one path")
	}
	base, err := withinRoot(jobRoot, root)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		src, err := withinRoot(base, rel)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(src); errors.Is(statErr, fs.ErrNotExist) {
			return fmt.Errorf("artifact: persist %s: path does not exist", rel)
		}
		dst, err := withinRoot(w.shared, rel)
		if err != nil {
			return err
		}
		if _, _, err := copyPath(src, dst); err != nil {
			return fmt.Errorf("artifact: persist %s: %w", rel, err)
		}
	}
	return nil
}

// Attach copies the shared workspace into the job workspace at the given
// mount point. Attaching before anything was persisted is a no-op.
func (w *Workspace) Attach(jobRoot, at string) error {
	if _, err := os.Stat(w.shared); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	dst, err := withinRoot(jobRoot, at)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if _, err := copyTree(w.shared, dst); err != nil {
		return fmt.Errorf("artifact: attach workspace: %w", err)
	}
	return nil
}
