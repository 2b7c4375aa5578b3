package target

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registration pairs a target name with its factory.
type Registration struct {
	Name    string
	Factory func(logger *zap.Logger) Adapter
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each target's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Name] = reg
}

// New creates the target registered under name.
func New(name string, logger *zap.Logger) (Adapter, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported target adapter: %s (not compiled in)", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return reg.Factory(logger.Named(name)), nil
}

// Registered returns the registered target names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
