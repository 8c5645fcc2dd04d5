package relay

import (
	"testing"
)

func TestRegisterDatastoreFactory(t *testing.T) {
	scheme := "dstestcustom"
	RegisterDatastoreFactory(scheme, func(dsn string) (Datastore, error) {
		return NewInMemoryDatastore(), nil
	})
	store, err := BuildDatastoreFromDSN(scheme + "://example")
	if err != nil {
		t.Fatalf("build datastore via registered factory failed: %v", err)
	}
	if store == nil {
		t.Fatalf("expected non-nil datastore from registered factory")
	}
}

func TestRegisterBlobStoreFactory(t *testing.T) {
	scheme := "blobtestcustom"
	want := NewInMemoryBlobStore()
	RegisterBlobStoreFactory(scheme, func(dsn string) (BlobStore, error) {
		return want, nil
	})
	store, err := BuildBlobStoreFromDSN(scheme + "://example")
	if err != nil {
		t.Fatalf("build blob store via registered factory failed: %v", err)
	}
	if store != want {
		t.Fatalf("expected registered blob store instance, got %T", store)
	}
}

func TestRegisterFactoryIgnoresEmptyScheme(t *testing.T) {
	RegisterDatastoreFactory("  ", func(dsn string) (Datastore, error) {
		t.Fatalf("factory with empty scheme should never be called")
		return nil, nil
	})
	if _, ok := lookupDatastoreFactory(""); ok {
		t.Fatalf("expected no factory registered for empty scheme")
	}
}
