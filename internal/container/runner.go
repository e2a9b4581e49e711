// Package container runs short-lived commands in Docker containers and
// captures their output. It backs the docker env directive.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// API is the subset of the Docker Engine client used by Runner.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Spec describes one container invocation.
type Spec struct {
	Image   string
	Command string            // run with /bin/sh -c; empty uses the image entrypoint
	Env     map[string]string // extra environment variables
}

// Runner executes Specs. The Docker client is created on first use so a
// missing daemon only matters when a docker directive is present.
type Runner struct {
	newClient func() (API, error)

	mu     sync.Mutex
	client API
	logger *slog.Logger
}

// NewRunner creates a runner using the Docker environment (DOCKER_HOST etc.).
func NewRunner() *Runner {
	return &Runner{
		newClient: func() (API, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
		logger: slog.With("component", "container"),
	}
}

// NewRunnerWithClient creates a runner around an existing client.
func NewRunnerWithClient(api API) *Runner {
	return &Runner{
		newClient: func() (API, error) { return api, nil },
		logger:    slog.With("component", "container"),
	}
}

func (r *Runner) api() (API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	api, err := r.newClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	r.client = api
	return api, nil
}

// Close releases the Docker client if one was created.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// Evaluate implements the docker env directive. The spec is a mapping with
// image, command and optional env keys.
func (r *Runner) Evaluate(ctx context.Context, raw any) (string, error) {
	spec, err := ParseSpec(raw)
	if err != nil {
		return "", err
	}
	return r.Run(ctx, spec)
}

// ParseSpec decodes a directive spec.
func ParseSpec(raw any) (Spec, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Spec{}, fmt.Errorf("docker directive expects a mapping, got %T", raw)
	}
	var spec Spec
	spec.Image, _ = m["image"].(string)
	spec.Command, _ = m["command"].(string)
	if env, ok := m["env"].(map[string]any); ok {
		spec.Env = make(map[string]string, len(env))
		for k, v := range env {
			spec.Env[k] = fmt.Sprint(v)
		}
	}
	if spec.Image == "" {
		return Spec{}, fmt.Errorf("docker directive requires an image")
	}
	return spec, nil
}

// Run creates the container, waits for it to exit and returns trimmed stdout.
// The container is always removed.
func (r *Runner) Run(ctx context.Context, spec Spec) (string, error) {
	api, err := r.api()
	if err != nil {
		return "", err
	}
	logger := r.logger.With("image", spec.Image)

	id, err := createContainer(ctx, api, spec)
	if client.IsErrNotFound(err) {
		logger.Info("Pulling image")
		if err := pullImage(ctx, api, spec.Image); err != nil {
			return "", fmt.Errorf("failed to pull %s: %w", spec.Image, err)
		}
		id, err = createContainer(ctx, api, spec)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	defer removeContainer(api, id)

	if err := api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	exitCode, err := waitForExit(ctx, api, id)
	if err != nil {
		return "", err
	}

	stdout, stderr, err := collectLogs(ctx, api, id)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("container exited with code %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	logger.Debug("Container finished", "containerId", id)
	return strings.TrimSpace(stdout), nil
}

func createContainer(ctx context.Context, api API, spec Spec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	var cmd []string
	if spec.Command != "" {
		cmd = []string{"/bin/sh", "-c", spec.Command}
	}

	cfg := &container.Config{
		Image: spec.Image,
		Cmd:   cmd,
		Env:   env,
		Labels: map[string]string{
			"managed-by": "indexctl",
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
	}

	resp, err := api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func pullImage(ctx context.Context, api API, ref string) error {
	reader, err := api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func waitForExit(ctx context.Context, api API, id string) (int, error) {
	statusCh, errCh := api.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func collectLogs(ctx context.Context, api API, id string) (string, string, error) {
	logs, err := api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func removeContainer(api API, id string) {
	// The caller context may already be cancelled.
	_ = api.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
}
