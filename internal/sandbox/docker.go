package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
	log *logger.Logger
}

// DockerOption configures the runtime during construction.
type DockerOption func(*dockerOptions)

type dockerOptions struct {
	host       string
	apiVersion string
}

// WithDockerHost overrides the daemon endpoint (e.g. unix:///var/run/docker.sock).
func WithDockerHost(host string) DockerOption {
	return func(o *dockerOptions) {
		o.host = host
	}
}

// WithAPIVersion pins a specific Engine API version instead of negotiating.
func WithAPIVersion(version string) DockerOption {
	return func(o *dockerOptions) {
		o.apiVersion = version
	}
}

// NewDockerRuntime creates a Docker-backed runtime and verifies connectivity.
func NewDockerRuntime(ctx context.Context, log *logger.Logger, opts ...DockerOption) (*DockerRuntime, error) {
	var options dockerOptions
	for _, opt := range opts {
		opt(&options)
	}

	clientOpts := []client.Opt{client.FromEnv}
	if options.host != "" {
		clientOpts = append(clientOpts, client.WithHost(options.host))
	}
	if options.apiVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(options.apiVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to create docker client", err)
	}

	if log == nil {
		log = logger.Default()
	}
	rt := &DockerRuntime{
		cli: cli,
		log: log.WithFields(zap.String("component", "docker_runtime")),
	}

	if err := rt.Ping(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// Ping verifies the daemon is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return apperr.Wrap(apperr.KindSandbox, "docker daemon unreachable", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (r *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	list, err := r.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindSandbox, "failed to list networks", err)
	}
	for _, nw := range list {
		if nw.Name == name {
			return nil
		}
	}
	if _, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return apperr.Wrap(apperr.KindSandbox, fmt.Sprintf("failed to create network %s", name), err)
	}
	r.log.Info("created sandbox network", zap.String("network", name))
	return nil
}

// FindContainer looks a container up by exact name, running or not.
func (r *DockerRuntime) FindContainer(ctx context.Context, name string) (*ContainerStatus, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to list containers", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return r.inspect(ctx, c.ID)
			}
		}
	}
	return nil, nil
}

func (r *DockerRuntime) inspect(ctx context.Context, id string) (*ContainerStatus, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to inspect container", err)
	}

	ports := make(map[int]int)
	if info.NetworkSettings != nil {
		for portSpec, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			containerPort := portSpec.Int()
			hostPort, err := strconv.Atoi(bindings[0].HostPort)
			if err != nil {
				continue
			}
			ports[containerPort] = hostPort
		}
	}

	return &ContainerStatus{
		ID:      info.ID,
		Name:    strings.TrimPrefix(info.Name, "/"),
		Running: info.State != nil && info.State.Running,
		Ports:   ports,
	}, nil
}

// CreateContainer creates a sandbox container from the given ContainerSpec
// and returns its id.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range spec.Ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
		if err != nil {
			return "", apperr.Wrap(apperr.KindSandbox, "invalid container port", err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(hostPort),
		}}
	}

	var mounts []mount.Mount
	if spec.WorkspaceSource != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: spec.WorkspaceSource,
			Target: spec.WorkspaceTarget,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:   spec.Memory,
			NanoCPUs: int64(spec.CPUs * 1e9),
		},
	}
	if spec.NetworkMode != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSandbox, fmt.Sprintf("failed to create container %s", spec.Name), err)
	}

	r.log.Info("created container",
		zap.String("container_id", resp.ID[:12]),
		zap.String("name", spec.Name),
		zap.String("image", spec.Image))
	return resp.ID, nil
}

// StartContainer starts a created or stopped container.
func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return apperr.Wrap(apperr.KindSandbox, "failed to start container", err)
	}
	return nil
}

// StopContainer stops a container, waiting up to timeout before the kill.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return apperr.Wrap(apperr.KindSandbox, "failed to stop container", err)
	}
	return nil
}

// RemoveContainer removes a container and its anonymous volumes.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindSandbox, "failed to remove container", err)
	}
	return nil
}

// Exec runs a command inside a running container and captures its output.
// The deadline applies to the whole run; on expiry the exec process is
// orphaned inside the container and a timeout error is returned.
func (r *DockerRuntime) Exec(ctx context.Context, id string, cmd []string, env []string, timeout time.Duration) (*ExecResult, error) {
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	created, err := r.cli.ContainerExecCreate(execCtx, id, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to create exec", err)
	}

	attach, err := r.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to attach exec", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- demultiplexStream(attach.Reader, &stdout, &stderr)
	}()

	select {
	case <-execCtx.Done():
		return nil, apperr.Wrap(apperr.KindTimeout, "command timed out", execCtx.Err())
	case err := <-done:
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSandbox, "failed to read exec output", err)
		}
	}

	inspect, err := r.cli.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to inspect exec", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
