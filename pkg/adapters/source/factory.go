package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewAdapter creates the adapter registered under adapterType.
	NewAdapter(adapterType string) (Adapter, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(logger *zap.Logger) AdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewAdapter(adapterType string) (Adapter, error) {
	factory := GetFactory(adapterType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported source adapter: %s (not compiled in)", adapterType)
	}
	return factory(f.logger.Named(adapterType)), nil
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Open builds a connection and verifies it is reachable. Credential errors
// fail immediately; transient network failures while pinging are retried.
func Open(ctx context.Context, adapter Adapter, creds models.Credentials, logger *zap.Logger) (Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := adapter.BuildConnection(ctx, creds)
	if err != nil {
		return nil, err
	}

	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		return conn.Ping(ctx)
	})
	if err != nil {
		logger.Error("source connection failed",
			zap.String("adapter", adapter.Info().Type),
			zap.String("profile", creds.Profile),
			zap.String("error", logging.SanitizeError(err)),
		)
		conn.Close()
		return nil, fmt.Errorf("connect to %s source: %w", adapter.Info().Type, err)
	}

	logger.Info("connected to source",
		zap.String("adapter", adapter.Info().Type),
		zap.String("profile", creds.Profile),
	)
	return conn, nil
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
