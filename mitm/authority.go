// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mitm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File names of the root certificate and key inside the certificate
// directory.
const (
	RootCertificateFile = "devproxy-root.pem"
	RootKeyFile         = "devproxy-root.key"
)

const (
	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour

	// Leaves are backdated to tolerate clock skew between hosts and
	// containers that share the root.
	leafBackdate = time.Hour
)

// provisionMu serializes load-or-create of root files, so concurrent
// callers in one process never write half a key pair.
var provisionMu sync.Mutex

// Authority issues leaf certificates for intercepted hosts, signed by a
// root the user installs in their trust store.
type Authority struct {
	root     *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	leafKey  *ecdsa.PrivateKey
	certPath string

	mu     sync.Mutex
	leaves map[string]*tls.Certificate
}

// LoadOrCreateAuthority loads the root certificate and key from
// directory, creating and persisting a new pair when none exists.
func LoadOrCreateAuthority(directory string) (*Authority, error) {
	provisionMu.Lock()
	defer provisionMu.Unlock()

	certPath := filepath.Join(directory, RootCertificateFile)
	keyPath := filepath.Join(directory, RootKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	switch {
	case certErr == nil && keyErr == nil:
		root, rootKey, err := parseRoot(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("loading root certificate from %s: %w", directory, err)
		}
		return newAuthority(root, rootKey, certPath)
	case errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist):
	case certErr != nil && !errors.Is(certErr, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", certPath, certErr)
	case keyErr != nil && !errors.Is(keyErr, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", keyPath, keyErr)
	default:
		return nil, fmt.Errorf("certificate directory %s holds only one of %s and %s", directory, RootCertificateFile, RootKeyFile)
	}

	root, rootKey, err := createRoot()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating certificate directory: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(rootKey)
	if err != nil {
		return nil, fmt.Errorf("encoding root key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", keyPath, err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", certPath, err)
	}
	return newAuthority(root, rootKey, certPath)
}

// NewEphemeralAuthority creates an Authority whose root exists only in
// memory.
func NewEphemeralAuthority() (*Authority, error) {
	root, rootKey, err := createRoot()
	if err != nil {
		return nil, err
	}
	return newAuthority(root, rootKey, "")
}

func newAuthority(root *x509.Certificate, rootKey *ecdsa.PrivateKey, certPath string) (*Authority, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating leaf key: %w", err)
	}
	return &Authority{
		root:     root,
		rootKey:  rootKey,
		leafKey:  leafKey,
		certPath: certPath,
		leaves:   make(map[string]*tls.Certificate),
	}, nil
}

// Root returns the root certificate.
func (a *Authority) Root() *x509.Certificate {
	return a.root
}

// CertificatePath is where the root certificate was persisted, or ""
// for an ephemeral authority.
func (a *Authority) CertificatePath() string {
	return a.certPath
}

// CertPool returns a pool trusting only the root.
func (a *Authority) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.root)
	return pool
}

// Leaf returns a certificate for host, issuing and caching one on first
// use. host may be a DNS name or an IP literal.
func (a *Authority) Leaf(host string) (*tls.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if leaf, ok := a.leaves[host]; ok && time.Now().Before(leaf.Leaf.NotAfter) {
		return leaf, nil
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-leafBackdate),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.root, &a.leafKey.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("issuing certificate for %s: %w", host, err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate for %s: %w", host, err)
	}
	leaf := &tls.Certificate{
		Certificate: [][]byte{der, a.root.Raw},
		PrivateKey:  a.leafKey,
		Leaf:        parsed,
	}
	a.leaves[host] = leaf
	return leaf, nil
}

func createRoot() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating root key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "DevProxy Root", Organization: []string{"DevProxy"}},
		NotBefore:             now.Add(-leafBackdate),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root certificate: %w", err)
	}
	return root, key, nil
}

func parseRoot(certPEM, keyPEM []byte) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, nil, errors.New("no CERTIFICATE block")
	}
	root, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "EC PRIVATE KEY" {
		return nil, nil, errors.New("no EC PRIVATE KEY block")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	if !key.PublicKey.Equal(root.PublicKey) {
		return nil, nil, errors.New("root key does not match root certificate")
	}
	return root, key, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}
