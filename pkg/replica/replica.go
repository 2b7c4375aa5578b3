// Package replica manages the lifecycle of the container a sample is loaded
// into.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// cleanupTimeout bounds best-effort termination after a failed launch.
const cleanupTimeout = 30 * time.Second

// ContainerSpec describes the container to create.
type ContainerSpec struct {
	Image    string
	Command  []string
	Env      map[string]string
	Port     int
	Hostname string
}

// ContainerHandle controls one created container.
type ContainerHandle interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Terminate(ctx context.Context) error
	// Endpoint returns the host address the container port is published on.
	// It is only valid while the container is running.
	Endpoint(ctx context.Context) (target.Endpoint, error)
}

// ContainerRuntime creates containers without starting them.
type ContainerRuntime interface {
	AcquireStoppedContainer(ctx context.Context, spec ContainerSpec) (ContainerHandle, error)
}

// Manager acquires replicas from a container runtime.
type Manager struct {
	runtime ContainerRuntime
	logger  *zap.Logger
}

// NewManager creates a manager over runtime.
func NewManager(runtime ContainerRuntime, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runtime: runtime, logger: logger.Named("replica")}
}

// Acquire creates a stopped replica container.
func (m *Manager) Acquire(ctx context.Context, image string, startCommand []string, envVars map[string]string, port int, hostname string) (*Replica, error) {
	if image == "" {
		return nil, apperrors.Configurationf("replica image is required")
	}
	if port < 1 || port > 65535 {
		return nil, apperrors.Configurationf("replica port %d out of range", port)
	}
	spec := ContainerSpec{
		Image:    image,
		Command:  append([]string(nil), startCommand...),
		Env:      envVars,
		Port:     port,
		Hostname: hostname,
	}

	handle, err := m.runtime.AcquireStoppedContainer(ctx, spec)
	if err != nil {
		return nil, &apperrors.ContainerError{Op: "create", Image: image, Err: err}
	}
	m.logger.Info("created replica container",
		zap.String("image", image),
		zap.String("container_id", handle.ID()),
		zap.String("hostname", hostname))
	return &Replica{spec: spec, handle: handle, logger: m.logger}, nil
}

// AcquireFor creates a stopped replica for a target adapter. An empty image
// or zero port falls back to the adapter's own.
func (m *Manager) AcquireFor(ctx context.Context, adapter target.Adapter, image string, port int, hostname string) (*Replica, error) {
	if image == "" {
		image = adapter.Image()
	}
	if port == 0 {
		port = adapter.Port()
	}
	return m.Acquire(ctx, image, adapter.StartCommand(), adapter.EnvVars(), port, hostname)
}

// Replica is a container holding a sampled copy of the source.
type Replica struct {
	spec   ContainerSpec
	handle ContainerHandle
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	removed bool
}

var errRemoved = errors.New("replica has been removed")

// Spec returns the image, command and port the replica was acquired with.
func (r *Replica) Spec() ContainerSpec {
	return r.spec
}

// IsRunning reports whether Launch succeeded and Stop has not been called.
func (r *Replica) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Launch starts the container and returns its endpoint. Launching a running
// replica returns ErrAlreadyRunning. If the start fails or ctx is cancelled
// the container is terminated.
func (r *Replica) Launch(ctx context.Context) (target.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return target.Endpoint{}, r.containerError("start", errRemoved)
	}
	if r.running {
		return target.Endpoint{}, apperrors.ErrAlreadyRunning
	}

	err := r.handle.Start(ctx)
	if err == nil {
		err = ctx.Err()
	}
	var endpoint target.Endpoint
	if err == nil {
		endpoint, err = r.handle.Endpoint(ctx)
	}
	if err != nil {
		r.terminateLocked(ctx)
		return target.Endpoint{}, r.containerError("start", err)
	}

	r.running = true
	r.logger.Info("replica running",
		zap.String("container_id", r.handle.ID()),
		zap.String("host", endpoint.Host),
		zap.Int("port", endpoint.Port))
	return endpoint, nil
}

// terminateLocked removes the container after a failed launch. ctx may
// already be cancelled, so cleanup runs on a detached deadline.
func (r *Replica) terminateLocked(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := r.handle.Terminate(cleanupCtx); err != nil {
		r.logger.Warn("failed to terminate replica after failed launch",
			zap.String("container_id", r.handle.ID()),
			zap.Error(err))
		return
	}
	r.removed = true
}

// Endpoint returns the address of a running replica.
func (r *Replica) Endpoint(ctx context.Context) (target.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return target.Endpoint{}, r.containerError("endpoint", errors.New("replica is not running"))
	}
	endpoint, err := r.handle.Endpoint(ctx)
	if err != nil {
		return target.Endpoint{}, r.containerError("endpoint", err)
	}
	return endpoint, nil
}

// Stop stops a running replica. Stopping a stopped replica is a no-op.
func (r *Replica) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	if err := r.handle.Stop(ctx); err != nil {
		return r.containerError("stop", err)
	}
	r.running = false
	r.logger.Info("replica stopped", zap.String("container_id", r.handle.ID()))
	return nil
}

// Remove terminates the container. Removing twice is a no-op.
func (r *Replica) Remove(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return nil
	}
	if err := r.handle.Terminate(ctx); err != nil {
		return r.containerError("remove", err)
	}
	r.running = false
	r.removed = true
	r.logger.Info("replica removed", zap.String("container_id", r.handle.ID()))
	return nil
}

func (r *Replica) containerError(op string, err error) error {
	return &apperrors.ContainerError{Op: op, Image: r.spec.Image, Err: fmt.Errorf("container %s: %w", r.handle.ID(), err)}
}
