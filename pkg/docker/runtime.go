// Package docker runs replica containers through testcontainers-go.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
	"github.com/ekaya-inc/ekaya-replica/pkg/replica"
)

const (
	defaultStartupTimeout = 60 * time.Second
	defaultStopTimeout    = 10 * time.Second
)

// Runtime creates containers on the local Docker daemon.
type Runtime struct {
	logger         *zap.Logger
	startupTimeout time.Duration
	stopTimeout    time.Duration
}

// NewRuntime creates a Docker-backed container runtime.
func NewRuntime(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		logger:         logger.Named("docker"),
		startupTimeout: defaultStartupTimeout,
		stopTimeout:    defaultStopTimeout,
	}
}

// ContainerRequest translates a replica spec into a testcontainers request.
// The container port is published on a random host port.
func ContainerRequest(spec replica.ContainerSpec, startupTimeout time.Duration) testcontainers.ContainerRequest {
	port := containerPort(spec.Port)
	req := testcontainers.ContainerRequest{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          spec.Env,
		ExposedPorts: []string{string(port)},
		WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(startupTimeout),
	}
	if spec.Hostname != "" {
		hostname := spec.Hostname
		req.ConfigModifier = func(cfg *container.Config) {
			cfg.Hostname = hostname
		}
	}
	return req
}

func containerPort(port int) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", port))
}

// AcquireStoppedContainer pulls the image if needed and creates the
// container without starting it.
func (r *Runtime) AcquireStoppedContainer(ctx context.Context, spec replica.ContainerSpec) (replica.ContainerHandle, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: ContainerRequest(spec, r.startupTimeout),
		Started:          false,
	})
	if err != nil {
		return nil, fmt.Errorf("create container from %s: %w", spec.Image, err)
	}
	r.logger.Debug("created container",
		zap.String("image", spec.Image),
		zap.String("container_id", c.GetContainerID()))
	return &handle{container: c, port: containerPort(spec.Port), stopTimeout: r.stopTimeout}, nil
}

type handle struct {
	container   testcontainers.Container
	port        nat.Port
	stopTimeout time.Duration
}

func (h *handle) ID() string {
	return h.container.GetContainerID()
}

func (h *handle) Start(ctx context.Context) error {
	return h.container.Start(ctx)
}

func (h *handle) Stop(ctx context.Context) error {
	timeout := h.stopTimeout
	return h.container.Stop(ctx, &timeout)
}

func (h *handle) Terminate(ctx context.Context) error {
	return h.container.Terminate(ctx)
}

func (h *handle) Endpoint(ctx context.Context) (target.Endpoint, error) {
	host, err := h.container.Host(ctx)
	if err != nil {
		return target.Endpoint{}, fmt.Errorf("container host: %w", err)
	}
	mapped, err := h.container.MappedPort(ctx, h.port)
	if err != nil {
		return target.Endpoint{}, fmt.Errorf("mapped port %s: %w", h.port, err)
	}
	return target.Endpoint{Host: host, Port: mapped.Int()}, nil
}

var _ replica.ContainerRuntime = (*Runtime)(nil)
