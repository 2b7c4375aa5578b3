package target

import (
	"context"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Adapter declares the container a replica engine runs in. Implementations
// are pure data; the replica manager owns the container.
type Adapter interface {
	// Name is the adapter type, e.g. "postgres".
	Name() string
	// Image is the container image reference.
	Image() string
	// StartCommand overrides the image entrypoint arguments. Nil keeps the default.
	StartCommand() []string
	// EnvVars configures the engine inside the container.
	EnvVars() map[string]string
	// Port is the container port the engine listens on.
	Port() int
}

// Configurable is implemented by targets that accept the fields of a
// credentials-file target profile, e.g. the replica superuser.
type Configurable interface {
	Configure(creds models.Credentials) error
}

// Endpoint is where a started replica can be reached from this process.
type Endpoint struct {
	Host string
	Port int
}

// Loader is implemented by targets that can create relations on a running
// replica and bulk-load their samples.
type Loader interface {
	// Load creates every relation on the replica and copies its sample.
	// Relations without a sample are created empty.
	Load(ctx context.Context, endpoint Endpoint, relations []*models.Relation) error
}
