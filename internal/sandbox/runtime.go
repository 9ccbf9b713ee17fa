// Package sandbox manages per-session isolated container environments:
// lifecycle, host port allocation, workspace filesystem and shell access.
package sandbox

import (
	"context"
	"time"
)

// ContainerSpec describes a sandbox container to create.
type ContainerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	NetworkMode string
	Memory      int64   // bytes, 0 = unlimited
	CPUs        float64 // fractional CPUs, 0 = unlimited
	Labels      map[string]string

	// WorkspaceSource is bind-mounted read-write at WorkspaceTarget.
	WorkspaceSource string
	WorkspaceTarget string

	// Ports maps container port → host port.
	Ports map[int]int
}

// ContainerStatus is the subset of inspection data the manager needs.
type ContainerStatus struct {
	ID      string
	Name    string
	Running bool
	// Ports maps container port → bound host port.
	Ports map[int]int
}

// ExecResult carries the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime abstracts the container engine so the manager can be exercised
// in tests without a Docker daemon.
type Runtime interface {
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// EnsureNetwork creates the named network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error

	// FindContainer looks a container up by its canonical name.
	// Returns nil without error when no such container exists.
	FindContainer(ctx context.Context, name string) (*ContainerStatus, error)

	// CreateContainer creates the container and returns its id.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a container gracefully within timeout.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// RemoveContainer removes a container, optionally by force.
	RemoveContainer(ctx context.Context, id string, force bool) error

	// Exec runs a command inside a running container. A non-zero exit
	// code is reported in the result, not as an error. Exceeding the
	// timeout returns a timeout error.
	Exec(ctx context.Context, id string, cmd []string, env []string, timeout time.Duration) (*ExecResult, error)
}
