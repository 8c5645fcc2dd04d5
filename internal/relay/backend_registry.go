package relay

import (
	"strings"
	"sync"
)

type DatastoreFactory func(dsn string) (Datastore, error)
type BlobStoreFactory func(dsn string) (BlobStore, error)

var backendFactoryRegistry = struct {
	mu                 sync.RWMutex
	datastoreFactories map[string]DatastoreFactory
	blobFactories      map[string]BlobStoreFactory
}{
	datastoreFactories: map[string]DatastoreFactory{},
	blobFactories:      map[string]BlobStoreFactory{},
}

func RegisterDatastoreFactory(scheme string, factory DatastoreFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.datastoreFactories[scheme] = factory
}

func RegisterBlobStoreFactory(scheme string, factory BlobStoreFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.blobFactories[scheme] = factory
}

func lookupDatastoreFactory(scheme string) (DatastoreFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.datastoreFactories[scheme]
	return factory, ok
}

func lookupBlobStoreFactory(scheme string) (BlobStoreFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.blobFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
