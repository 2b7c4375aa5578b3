package source

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// AdapterRegistration contains info + factory for creating an adapter.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(logger *zap.Logger) Adapter
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetFactory returns the factory for an adapter type.
// Returns nil if type is not registered.
func GetFactory(adapterType string) func(logger *zap.Logger) Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(adapterType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[adapterType]
	return ok
}
