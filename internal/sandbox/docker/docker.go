// Package docker implements job.SandboxRunner using the Docker API.
// Each sandbox is one container on the host Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"runproxy/internal/apperrors"
	"runproxy/internal/job"
	"runproxy/pkg/backoff"
)

// Container labels
const (
	labelManagedBy = "managed-by"
	labelGroup     = "resource-group"
	labelJobID     = "job.id"

	managedBy = "proxy-service"
)

// deleteTimeout bounds a background deletion once it has been detached from
// the request that issued it.
const deleteTimeout = 2 * time.Minute

var deleteBackoff = &backoff.Config{Initial: time.Second, Max: 10 * time.Second, Attempts: 4}

// Runner implements job.SandboxRunner using Docker.
type Runner struct {
	client *client.Client
	group  string

	deleteWg sync.WaitGroup
}

// NewRunner creates a runner for the sandboxes of one resource group.
// The daemon endpoint comes from the standard DOCKER_HOST environment.
func NewRunner(group string) (*Runner, error) {
	if group == "" {
		return nil, fmt.Errorf("resource group is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Runner{client: dockerClient, group: group}, nil
}

// CreateOrUpdate replaces any sandbox with the same name, then creates and
// starts a new one from spec.
func (r *Runner) CreateOrUpdate(ctx context.Context, name string, spec *job.SandboxSpec) error {
	logger := slog.With("sandbox", name, "image", spec.Image)

	if err := r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to replace existing sandbox: %w", err)
	}

	if err := r.pullImageIfNeeded(ctx, spec.Image, spec.Platform); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	containerConfig, hostConfig := r.containerConfig(name, spec)
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, parsePlatform(spec.Platform), name)
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.removeContainer(context.WithoutCancel(ctx), resp.ID)
		return fmt.Errorf("failed to start sandbox: %w", err)
	}

	logger.Info("Sandbox started", "containerId", resp.ID)
	return nil
}

// Get returns the status of a sandbox. Containers outside this runner's
// resource group are reported as absent.
func (r *Runner) Get(ctx context.Context, name string) (*job.SandboxStatus, error) {
	inspect, err := r.client.ContainerInspect(ctx, name)
	if cerrdefs.IsNotFound(err) {
		return nil, apperrors.NotFound("sandbox", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect sandbox: %w", err)
	}

	if inspect.ContainerJSONBase == nil || inspect.Config == nil || !r.owns(inspect.Config.Labels) {
		return nil, apperrors.NotFound("sandbox", name)
	}

	return sandboxStatus(name, inspect.State), nil
}

// Delete removes a sandbox in the background and returns immediately.
// Close waits for deletions still in flight.
func (r *Runner) Delete(ctx context.Context, name string) error {
	r.deleteWg.Add(1)
	go func() {
		defer r.deleteWg.Done()

		deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
		defer cancel()

		err := backoff.Retry(deleteCtx, deleteBackoff, isTransient, func(ctx context.Context) error {
			return r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
		})
		switch {
		case err == nil:
			slog.Info("Sandbox deleted", "sandbox", name)
		case cerrdefs.IsNotFound(err):
		default:
			slog.Warn("Failed to delete sandbox, the sweep will retry", "sandbox", name, "error", err)
		}
	}()
	return nil
}

// isTransient reports whether a daemon error is worth retrying.
func isTransient(err error) bool {
	return !cerrdefs.IsNotFound(err) && !cerrdefs.IsInvalidArgument(err) && !cerrdefs.IsPermissionDenied(err)
}

// List returns the names of all sandboxes in the resource group.
func (r *Runner) List(ctx context.Context) ([]string, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedBy),
			filters.Arg("label", labelGroup+"="+r.group),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}

	names := make([]string, 0, len(containers))
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		names = append(names, strings.TrimPrefix(c.Names[0], "/"))
	}
	return names, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close waits for background deletions and closes the client.
func (r *Runner) Close() error {
	r.deleteWg.Wait()
	return r.client.Close()
}

func (r *Runner) owns(labels map[string]string) bool {
	return labels[labelManagedBy] == managedBy && labels[labelGroup] == r.group
}

func (r *Runner) containerConfig(name string, spec *job.SandboxSpec) (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Command,
		// Relative paths in the command resolve against the share.
		WorkingDir: spec.Volume.MountPath,
		Labels: map[string]string{
			labelManagedBy: managedBy,
			labelGroup:     r.group,
			labelJobID:     strings.TrimPrefix(name, job.SandboxPrefix),
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   spec.Volume.Source,
				Target:   spec.Volume.MountPath,
				ReadOnly: spec.Volume.ReadOnly,
			},
		},
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPU * 1e9),
			Memory:   int64(spec.MemoryGB * 1024 * 1024 * 1024),
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}

	return containerConfig, hostConfig
}

func (r *Runner) pullImageIfNeeded(ctx context.Context, imageName, platform string) error {
	_, err := r.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	slog.Info("Pulling sandbox image", "image", imageName)
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{Platform: platform})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runner) removeContainer(ctx context.Context, containerID string) {
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// sandboxStatus maps Docker container state onto sandbox phases.
func sandboxStatus(name string, state *container.State) *job.SandboxStatus {
	status := &job.SandboxStatus{Name: name, Phase: job.PhaseNotStarted}
	if state == nil {
		return status
	}

	switch string(state.Status) {
	case "created":
		status.Phase = job.PhaseNotStarted
	case "running", "paused", "restarting":
		status.Phase = job.PhaseRunning
	case "exited", "dead", "removing":
		status.Phase = job.PhaseTerminated
		status.ExitCode = state.ExitCode
		status.Outcome = job.OutcomeFailed
		if state.ExitCode == 0 && !state.OOMKilled {
			status.Outcome = job.OutcomeCompleted
		}
		if finished, err := time.Parse(time.RFC3339Nano, state.FinishedAt); err == nil {
			status.FinishedAt = finished
		}
	default:
		if state.Running {
			status.Phase = job.PhaseRunning
		}
	}
	return status
}

// parsePlatform turns "os/arch[/variant]" into an OCI platform. Empty selects
// the daemon default.
func parsePlatform(s string) *ocispec.Platform {
	if s == "" {
		return nil
	}
	goos, rest, _ := strings.Cut(s, "/")
	arch, variant, _ := strings.Cut(rest, "/")
	return &ocispec.Platform{OS: goos, Architecture: arch, Variant: variant}
}

// Verify Runner implements job.SandboxRunner
var _ job.SandboxRunner = (*Runner)(nil)
