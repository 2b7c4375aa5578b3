package config

import (
	"os"
	"strconv"
	"sync"
)

// dockerHostGateway is the name Docker Desktop and the host-gateway mapping
// give the host machine from inside a container.
const dockerHostGateway = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a container.
// REPLICA_IN_DOCKER overrides detection; otherwise /.dockerenv is checked.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		if v, ok := os.LookupEnv("REPLICA_IN_DOCKER"); ok {
			isDockerResult, _ = strconv.ParseBool(v)
			return
		}
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback source hosts to the Docker host gateway
// when running in a container, so a source on the developer machine stays
// reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

func resolveLoopback(host string) string {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostGateway
	}
	return host
}
