package push

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const pemPrefix = "-----BEGIN"

// CertificateLoader parses APNs key pairs and caches them. Credential values
// are either PEM text or a path to a PEM file; file-backed pairs are evicted
// when the file changes so rotated certificates are picked up.
type CertificateLoader struct {
	mu      sync.Mutex
	cache   map[string]tls.Certificate
	byPath  map[string][]string
	watched map[string]bool
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	done    chan struct{}
}

// NewStaticCertificateLoader caches without watching files.
func NewStaticCertificateLoader() *CertificateLoader {
	return &CertificateLoader{
		cache:   map[string]tls.Certificate{},
		byPath:  map[string][]string{},
		watched: map[string]bool{},
	}
}

func NewCertificateLoader(logger zerolog.Logger) (*CertificateLoader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create certificate watcher: %w", err)
	}
	l := NewStaticCertificateLoader()
	l.watcher = watcher
	l.logger = logger
	l.done = make(chan struct{})
	go l.watch()
	return l, nil
}

func (l *CertificateLoader) Load(certValue, keyValue string) (tls.Certificate, error) {
	cacheKey := certValue + "\x00" + keyValue
	l.mu.Lock()
	if cert, ok := l.cache[cacheKey]; ok {
		l.mu.Unlock()
		return cert, nil
	}
	l.mu.Unlock()

	certPEM, certPath, err := readPEM(certValue)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read apns certificate: %w", err)
	}
	keyPEM, keyPath, err := readPEM(keyValue)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read apns key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse apns key pair: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[cacheKey] = cert
	for _, path := range []string{certPath, keyPath} {
		if path == "" {
			continue
		}
		l.byPath[path] = append(l.byPath[path], cacheKey)
		l.watchLocked(path)
	}
	return cert, nil
}

// Evict drops every cached pair read from path.
func (l *CertificateLoader) Evict(path string) {
	path = filepath.Clean(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range l.byPath[path] {
		delete(l.cache, key)
	}
	delete(l.byPath, path)
}

func (l *CertificateLoader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}

func (l *CertificateLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

// watchLocked watches the file's directory; editors and secret mounts
// replace files by rename, which drops a watch on the file itself.
func (l *CertificateLoader) watchLocked(path string) {
	if l.watcher == nil {
		return
	}
	dir := filepath.Dir(path)
	if l.watched[dir] {
		return
	}
	if err := l.watcher.Add(dir); err != nil {
		l.logger.Warn().Err(err).Str("dir", dir).Msg("watch certificate directory failed")
		return
	}
	l.watched[dir] = true
}

func (l *CertificateLoader) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Info().Str("path", event.Name).Str("op", event.Op.String()).Msg("apns certificate changed")
			l.Evict(event.Name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("certificate watcher error")
		}
	}
}

func readPEM(value string) ([]byte, string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, "", errors.New("empty credential value")
	}
	if strings.HasPrefix(trimmed, pemPrefix) {
		return []byte(trimmed), "", nil
	}
	path := filepath.Clean(trimmed)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, path, nil
}
