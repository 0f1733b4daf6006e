// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-truststore.
//
// go-truststore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package endpoint owns the server's transport: the TLS certificates the
// server presents, hot-swapped when a certificate update is committed, and
// the QUIC listener whose connections the push service sweeps after trust
// store changes.
package endpoint

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
	"github.com/jeremyhahn/go-truststore/pkg/logging"
)

// ErrNoCertificate is returned when no certificate is active for a
// certificate type.
var ErrNoCertificate = fmt.Errorf("endpoint: no active certificate")

// typePreference orders certificate types for TLS handshakes when the client
// hello does not narrow the choice.
var typePreference = []certgroup.CertificateType{
	certgroup.CertificateTypeECCNistP384,
	certgroup.CertificateTypeECCNistP256,
	certgroup.CertificateTypeRSASha256,
	certgroup.CertificateTypeRSAMin,
}

// Manager holds the server's active certificates by certificate type and
// applies committed replacements without restarting listeners.
type Manager struct {
	mu     sync.RWMutex
	certs  map[certgroup.CertificateType]*tls.Certificate
	logger *logging.Logger
}

// NewManager creates a certificate manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Manager{
		certs:  make(map[certgroup.CertificateType]*tls.Certificate),
		logger: logger,
	}
}

// SetCertificate installs the initial certificate for its inferred type.
func (m *Manager) SetCertificate(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return ErrNoCertificate
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return fmt.Errorf("endpoint: parsing certificate: %w", err)
		}
		leaf = parsed
		cert.Leaf = leaf
	}
	certType, err := typeOf(leaf)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[certType] = &cert
	m.logger.Infof("endpoint certificate installed: type=%s subject=%q",
		certType, leaf.Subject.CommonName)
	return nil
}

// typeOf infers the certificate type from the leaf's public key.
func typeOf(leaf *x509.Certificate) (certgroup.CertificateType, error) {
	switch pub := leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		if pub.N.BitLen() >= 3072 {
			return certgroup.CertificateTypeRSASha256, nil
		}
		return certgroup.CertificateTypeRSAMin, nil
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256():
			return certgroup.CertificateTypeECCNistP256, nil
		case elliptic.P384():
			return certgroup.CertificateTypeECCNistP384, nil
		}
		return "", fmt.Errorf("endpoint: unsupported curve %s", pub.Curve.Params().Name)
	default:
		return "", fmt.Errorf("endpoint: unsupported public key type %T", pub)
	}
}

// Certificate returns the active certificate and key for a certificate type.
func (m *Manager) Certificate(certType certgroup.CertificateType) (*x509.Certificate, crypto.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cert, ok := m.certs[certType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: type %s", ErrNoCertificate, certType)
	}
	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("endpoint: private key for %s is not a signer", certType)
	}
	return cert.Leaf, signer, nil
}

// UpdateCertificate swaps in a committed certificate replacement. Reports
// false when no endpoint uses the certificate type.
func (m *Manager) UpdateCertificate(certType certgroup.CertificateType, der []byte, issuers [][]byte, signer crypto.Signer) (bool, error) {
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return false, fmt.Errorf("endpoint: parsing replacement certificate: %w", err)
	}

	chain := make([][]byte, 0, 1+len(issuers))
	chain = append(chain, der)
	chain = append(chain, issuers...)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.certs[certType]; !ok {
		return false, nil
	}
	m.certs[certType] = &tls.Certificate{
		Certificate: chain,
		PrivateKey:  signer,
		Leaf:        leaf,
	}
	m.logger.Infof("endpoint certificate replaced: type=%s subject=%q serial=%s",
		certType, leaf.Subject.CommonName, leaf.SerialNumber)
	return true, nil
}

// GetCertificate selects a certificate for a TLS handshake. Bound to
// tls.Config.GetCertificate so replacements take effect on the next
// handshake.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, certType := range typePreference {
		cert, ok := m.certs[certType]
		if !ok {
			continue
		}
		if hello != nil {
			if err := hello.SupportsCertificate(cert); err != nil {
				continue
			}
		}
		return cert, nil
	}
	// Fall back to any certificate rather than failing the handshake.
	for _, cert := range m.certs {
		return cert, nil
	}
	return nil, ErrNoCertificate
}

// Types returns the certificate types with an active certificate.
func (m *Manager) Types() []certgroup.CertificateType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []certgroup.CertificateType
	for _, certType := range typePreference {
		if _, ok := m.certs[certType]; ok {
			out = append(out, certType)
		}
	}
	return out
}
