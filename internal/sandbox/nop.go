package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NopRuntime is a Runtime without a container engine behind it: containers
// are pretend-created and every exec succeeds with empty output. It backs
// engine-less development and tests in other packages.
type NopRuntime struct{}

func (NopRuntime) Ping(context.Context) error { return nil }

func (NopRuntime) EnsureNetwork(context.Context, string) error { return nil }

func (NopRuntime) FindContainer(context.Context, string) (*ContainerStatus, error) {
	return nil, nil
}

func (NopRuntime) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	return "nop-" + uuid.NewString(), nil
}

func (NopRuntime) StartContainer(context.Context, string) error { return nil }

func (NopRuntime) StopContainer(context.Context, string, time.Duration) error { return nil }

func (NopRuntime) RemoveContainer(context.Context, string, bool) error { return nil }

func (NopRuntime) Exec(context.Context, string, []string, []string, time.Duration) (*ExecResult, error) {
	return &ExecResult{}, nil
}
