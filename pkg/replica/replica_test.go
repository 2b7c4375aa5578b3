package replica

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

type fakeHandle struct {
	startErr     error
	endpointErr  error
	terminateErr error

	starts, stops, terminates int
}

func (h *fakeHandle) ID() string { return "c0ffee" }

func (h *fakeHandle) Start(ctx context.Context) error {
	h.starts++
	return h.startErr
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.stops++
	return nil
}

func (h *fakeHandle) Terminate(ctx context.Context) error {
	h.terminates++
	return h.terminateErr
}

func (h *fakeHandle) Endpoint(ctx context.Context) (target.Endpoint, error) {
	if h.endpointErr != nil {
		return target.Endpoint{}, h.endpointErr
	}
	return target.Endpoint{Host: "localhost", Port: 49153}, nil
}

type fakeRuntime struct {
	handle *fakeHandle
	err    error
	specs  []ContainerSpec
}

func (r *fakeRuntime) AcquireStoppedContainer(ctx context.Context, spec ContainerSpec) (ContainerHandle, error) {
	r.specs = append(r.specs, spec)
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

type fakeTarget struct{}

func (fakeTarget) Name() string              { return "fake" }
func (fakeTarget) Image() string             { return "fake:1" }
func (fakeTarget) StartCommand() []string    { return []string{"serve"} }
func (fakeTarget) EnvVars() map[string]string { return map[string]string{"A": "1"} }
func (fakeTarget) Port() int                 { return 9000 }

func acquire(t *testing.T, handle *fakeHandle) (*Replica, *fakeRuntime) {
	t.Helper()
	runtime := &fakeRuntime{handle: handle}
	m := NewManager(runtime, zaptest.NewLogger(t))
	r, err := m.Acquire(context.Background(), "postgres:16-alpine", []string{"postgres"}, map[string]string{"POSTGRES_USER": "replica"}, 5432, "replica-host")
	require.NoError(t, err)
	return r, runtime
}

func TestManager_Acquire(t *testing.T) {
	r, runtime := acquire(t, &fakeHandle{})

	require.Len(t, runtime.specs, 1)
	spec := runtime.specs[0]
	assert.Equal(t, "postgres:16-alpine", spec.Image)
	assert.Equal(t, []string{"postgres"}, spec.Command)
	assert.Equal(t, 5432, spec.Port)
	assert.Equal(t, "replica-host", spec.Hostname)
	assert.Equal(t, spec, r.Spec())
	assert.False(t, r.IsRunning())
}

func TestManager_AcquireValidation(t *testing.T) {
	m := NewManager(&fakeRuntime{handle: &fakeHandle{}}, nil)

	_, err := m.Acquire(context.Background(), "", nil, nil, 5432, "")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	_, err = m.Acquire(context.Background(), "img", nil, nil, 0, "")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestManager_AcquireRuntimeError(t *testing.T) {
	m := NewManager(&fakeRuntime{err: errors.New("daemon unreachable")}, nil)

	_, err := m.Acquire(context.Background(), "img", nil, nil, 5432, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrContainer)
	var ce *apperrors.ContainerError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "create", ce.Op)
	assert.ErrorContains(t, err, "daemon unreachable")
}

func TestManager_AcquireFor(t *testing.T) {
	runtime := &fakeRuntime{handle: &fakeHandle{}}
	m := NewManager(runtime, nil)

	_, err := m.AcquireFor(context.Background(), fakeTarget{}, "", 0, "h")
	require.NoError(t, err)
	_, err = m.AcquireFor(context.Background(), fakeTarget{}, "fake:2", 9100, "h")
	require.NoError(t, err)

	require.Len(t, runtime.specs, 2)
	assert.Equal(t, "fake:1", runtime.specs[0].Image)
	assert.Equal(t, 9000, runtime.specs[0].Port)
	assert.Equal(t, []string{"serve"}, runtime.specs[0].Command)
	assert.Equal(t, "fake:2", runtime.specs[1].Image)
	assert.Equal(t, 9100, runtime.specs[1].Port)
}

func TestReplica_LaunchStopRemove(t *testing.T) {
	handle := &fakeHandle{}
	r, _ := acquire(t, handle)
	ctx := context.Background()

	endpoint, err := r.Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, target.Endpoint{Host: "localhost", Port: 49153}, endpoint)
	assert.True(t, r.IsRunning())

	got, err := r.Endpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)

	_, err = r.Launch(ctx)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRunning)
	assert.Equal(t, 1, handle.starts)

	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, 1, handle.stops)
	assert.False(t, r.IsRunning())

	_, err = r.Endpoint(ctx)
	assert.ErrorIs(t, err, apperrors.ErrContainer)

	// A stopped replica can be relaunched.
	_, err = r.Launch(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx))
	require.NoError(t, r.Remove(ctx))
	assert.Equal(t, 1, handle.terminates)
	assert.False(t, r.IsRunning())

	_, err = r.Launch(ctx)
	assert.ErrorIs(t, err, apperrors.ErrContainer)
}

func TestReplica_LaunchFailureTerminates(t *testing.T) {
	handle := &fakeHandle{startErr: errors.New("port already allocated")}
	r, _ := acquire(t, handle)

	_, err := r.Launch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrContainer)
	assert.ErrorContains(t, err, "port already allocated")
	assert.Equal(t, 1, handle.terminates)
	assert.False(t, r.IsRunning())

	// Already terminated, so Remove has nothing left to do.
	require.NoError(t, r.Remove(context.Background()))
	assert.Equal(t, 1, handle.terminates)
}

func TestReplica_LaunchEndpointFailureTerminates(t *testing.T) {
	handle := &fakeHandle{endpointErr: errors.New("no port mapping")}
	r, _ := acquire(t, handle)

	_, err := r.Launch(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrContainer)
	assert.Equal(t, 1, handle.terminates)
}

func TestReplica_LaunchCancelledTerminates(t *testing.T) {
	handle := &fakeHandle{}
	r, _ := acquire(t, handle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Launch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apperrors.ErrContainer)
	assert.Equal(t, 1, handle.terminates)
}

func TestReplica_FailedCleanupLeavesRemoveAvailable(t *testing.T) {
	handle := &fakeHandle{startErr: errors.New("boom"), terminateErr: errors.New("still busy")}
	r, _ := acquire(t, handle)

	_, err := r.Launch(context.Background())
	require.Error(t, err)

	handle.terminateErr = nil
	require.NoError(t, r.Remove(context.Background()))
	assert.Equal(t, 2, handle.terminates)
}
