package docker

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/replica"
)

func TestContainerRequest(t *testing.T) {
	spec := replica.ContainerSpec{
		Image:    "postgres:16-alpine",
		Command:  []string{"postgres", "-c", "fsync=off"},
		Env:      map[string]string{"POSTGRES_USER": "replica"},
		Port:     5432,
		Hostname: "sales-replica",
	}

	req := ContainerRequest(spec, 30*time.Second)

	assert.Equal(t, "postgres:16-alpine", req.Image)
	assert.Equal(t, spec.Command, req.Cmd)
	assert.Equal(t, spec.Env, req.Env)
	assert.Equal(t, []string{"5432/tcp"}, req.ExposedPorts)
	require.NotNil(t, req.WaitingFor)
	require.NotNil(t, req.ConfigModifier)

	cfg := &container.Config{}
	req.ConfigModifier(cfg)
	assert.Equal(t, "sales-replica", cfg.Hostname)
}

func TestContainerRequest_NoHostname(t *testing.T) {
	req := ContainerRequest(replica.ContainerSpec{Image: "img", Port: 1433}, time.Second)
	assert.Nil(t, req.ConfigModifier)
	assert.Equal(t, []string{"1433/tcp"}, req.ExposedPorts)
}
