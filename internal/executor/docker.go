package executor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the slice of the docker client the executor needs. The
// concrete *client.Client satisfies it; tests swap in a fake.
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerRename(ctx context.Context, containerID, newContainerName string) error
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// Docker runs each command in a fresh container and removes it afterwards.
type Docker struct {
	api          dockerAPI
	defaultImage string
}

// NewDocker builds a docker executor from the host environment
// (DOCKER_HOST and friends).
func NewDocker(defaultImage string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("executor: docker client: %w", err)
	}
	return &Docker{api: cli, defaultImage: defaultImage}, nil
}

func newDockerWithAPI(api dockerAPI, defaultImage string) *Docker {
	return &Docker{api: api, defaultImage: defaultImage}
}

func (d *Docker) Name() string { return "docker" }

// Exec pulls the image if needed, runs the command in a one-off container
// bound to the job workspace, streams its logs, and reports the container's
// exit status.
func (d *Docker) Exec(ctx context.Context, spec Spec) (int, error) {
	if spec.Command == "" {
		return 0, fmt.Errorf("executor: empty command")
	}
	image := normalizeImage(spec.Image, d.defaultImage)
	if image == "" {
		return 0, fmt.Errorf("executor: no image configured for job %s", spec.Job)
	}
	if err := d.ensureImage(ctx, image); err != nil {
		return 1, err
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{spec.shell(), "-c", spec.Command},
		Env:        flattenEnv(spec.Env),
		WorkingDir: spec.WorkingDir,
	}
	host := &container.HostConfig{Binds: bindList(spec.Mounts)}
	created, err := d.api.ContainerCreate(ctx, cfg, host, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return 1, fmt.Errorf("executor: create container: %w", err)
	}
	id := created.ID
	defer func() {
		_ = d.api.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	}()
	_ = d.api.ContainerRename(ctx, id, containerName(spec.Job, id))

	if err := d.api.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return 1, fmt.Errorf("executor: start container: %w", err)
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		logs, err := d.api.ContainerLogs(ctx, id, types.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			return
		}
		defer logs.Close()
		_, _ = stdcopy.StdCopy(spec.stdout(), spec.stderr(), logs)
	}()

	waitCh, errCh := d.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		<-logsDone
		if ctx.Err() != nil {
			return KillExitCode, ctx.Err()
		}
		return 1, fmt.Errorf("executor: wait container: %w", err)
	case status := <-waitCh:
		<-logsDone
		if status.Error != nil && status.Error.Message != "" {
			fmt.Fprintln(spec.stderr(), status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// ensureImage pulls the image, falling back to a locally cached copy when
// the registry is unreachable.
func (d *Docker) ensureImage(ctx context.Context, image string) error {
	reader, err := d.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err == nil {
		_, err = io.Copy(io.Discard, reader)
		reader.Close()
		if err == nil {
			return nil
		}
	}
	if _, _, inspectErr := d.api.ImageInspectWithRaw(ctx, image); inspectErr == nil {
		return nil
	}
	return fmt.Errorf("executor: pull %s: %w", image, err)
}

func bindList(mounts []Mount) []string {
	if len(mounts) == 0 {
		return nil
	}
	binds := make([]string, 0, len(mounts))
	for _, mount := range mounts {
		if mount.Host == "" || mount.Target == "" {
			continue
		}
		binds = append(binds, mount.Host+":"+mount.Target)
	}
	return binds
}

func normalizeImage(image, fallback string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		image = strings.TrimSpace(fallback)
	}
	if image == "" {
		return ""
	}
	repo, tag := splitRepoTag(image)
	return repo + ":" + tag
}

// splitRepoTag defaults the tag to latest. Registry ports also use colons,
// so only a colon after the last slash counts as a tag separator.
func splitRepoTag(image string) (string, string) {
	slash := strings.LastIndex(image, "/")
	if colon := strings.LastIndex(image, ":"); colon > slash {
		return image[:colon], image[colon+1:]
	}
	return image, "latest"
}

func containerName(job, id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(job)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-._")
	if slug == "" {
		slug = "job"
	}
	short := id
	if len(short) > 12 {
		short = short[:12]
	}
	return "boltci-" + slug + "-" + short
}
