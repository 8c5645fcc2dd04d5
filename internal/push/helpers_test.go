package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

func testKeyPairPEM(t *testing.T, commonName string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEM), string(keyPEM)
}

type staticCredentials map[string]relay.CredentialRecord

func (s staticCredentials) LatestCredential(ctx context.Context, provider, tag string) (*relay.CredentialRecord, error) {
	key := provider
	if tag != "" {
		key += "/" + tag
	}
	rec, ok := s[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type countingNotifier struct {
	provider string
	calls    int
	result   Result
	err      error
}

func (n *countingNotifier) Provider() string {
	return n.provider
}

func (n *countingNotifier) Notify(ctx context.Context, req Request) (Result, error) {
	n.calls++
	return n.result, n.err
}
