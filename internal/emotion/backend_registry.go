package emotion

import (
	"strings"
	"sync"
)

type IntentQueueFactory func(dsn string, capacity int) (IntentQueue, error)
type EntryStoreFactory func(dsn string) (EntryStore, error)

var backendFactoryRegistry = struct {
	mu             sync.RWMutex
	queueFactories map[string]IntentQueueFactory
	storeFactories map[string]EntryStoreFactory
}{
	queueFactories: map[string]IntentQueueFactory{},
	storeFactories: map[string]EntryStoreFactory{},
}

func RegisterIntentQueueFactory(scheme string, factory IntentQueueFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.queueFactories[scheme] = factory
}

func RegisterEntryStoreFactory(scheme string, factory EntryStoreFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.storeFactories[scheme] = factory
}

func lookupIntentQueueFactory(scheme string) (IntentQueueFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func lookupEntryStoreFactory(scheme string) (EntryStoreFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.storeFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
