package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildDatastoreFromDSN opens the datastore named by dsn. An empty dsn
// yields an in-memory store.
func BuildDatastoreFromDSN(dsn string) (Datastore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryDatastore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupDatastoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryDatastore(), nil
	case "", "sqlite", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteDatastore(path)
	case "postgres", "postgresql":
		return NewPostgresDatastore(dsn)
	case "mysql", "datastore":
		return nil, fmt.Errorf("%w: datastore backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported datastore scheme: %s", scheme)
	}
}

// BuildBlobStoreFromDSN opens the blob store named by dsn. An empty dsn
// yields an in-memory store.
func BuildBlobStoreFromDSN(dsn string) (BlobStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryBlobStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupBlobStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileBlobStore(path)
	case "memory", "mem", "inmem":
		return NewInMemoryBlobStore(), nil
	case "s3":
		return NewS3BlobStoreFromURL(parsed)
	case "gs", "azblob":
		return nil, fmt.Errorf("%w: blob store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported blob store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	} else if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + path
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
