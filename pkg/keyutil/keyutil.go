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

// Package keyutil handles the private key formats accepted by certificate
// update operations (PEM and PFX), key generation per certificate type, and
// PKCS#10 signing request creation.
package keyutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
)

// Supported private key container formats.
const (
	FormatPEM = "PEM"
	FormatPFX = "PFX"
)

var (
	// ErrUnsupportedFormat is returned for a private key format other than
	// PEM or PFX.
	ErrUnsupportedFormat = errors.New("keyutil: unsupported private key format")

	// ErrKeyInvalid is returned when key material cannot be parsed.
	ErrKeyInvalid = errors.New("keyutil: invalid private key")

	// ErrKeyMismatch is returned when a private key does not match a
	// certificate's public key.
	ErrKeyMismatch = errors.New("keyutil: private key does not match certificate")

	// ErrNonceTooShort is returned when key regeneration is requested with
	// insufficient caller entropy.
	ErrNonceTooShort = errors.New("keyutil: nonce must be at least 32 bytes")
)

// MinNonceLen is the minimum entropy nonce length for key regeneration.
const MinNonceLen = 32

// ParsePrivateKey parses private key material in the given container format.
// PEM accepts PKCS#8 (optionally encrypted, using password), PKCS#1 and SEC 1
// blocks. PFX accepts PKCS#12 archives.
func ParsePrivateKey(format string, data []byte, password string) (crypto.Signer, error) {
	switch format {
	case FormatPEM:
		return parsePEM(data, password)
	case FormatPFX:
		key, _, err := pkcs12.Decode(data, password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: key type %T cannot sign", ErrKeyInvalid, key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func parsePEM(data []byte, password string) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyInvalid)
	}

	var key any
	var err error
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyInvalid, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T cannot sign", ErrKeyInvalid, key)
	}
	return signer, nil
}

// MatchesCertificate checks that the signer's public key is the certificate's
// public key.
func MatchesCertificate(signer crypto.Signer, cert *x509.Certificate) error {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := signer.Public().(equaler)
	if !ok {
		return fmt.Errorf("%w: unsupported public key type %T", ErrKeyMismatch, signer.Public())
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

// GenerateKey generates a key pair for the given certificate type. The
// reader supplies entropy; pass nil for crypto/rand.
func GenerateKey(certType certgroup.CertificateType, reader io.Reader) (crypto.Signer, error) {
	if reader == nil {
		reader = rand.Reader
	}
	switch certType {
	case certgroup.CertificateTypeRSAMin:
		return rsa.GenerateKey(reader, 2048)
	case certgroup.CertificateTypeRSASha256:
		return rsa.GenerateKey(reader, 3072)
	case certgroup.CertificateTypeECCNistP256:
		return ecdsa.GenerateKey(elliptic.P256(), reader)
	case certgroup.CertificateTypeECCNistP384:
		return ecdsa.GenerateKey(elliptic.P384(), reader)
	default:
		return nil, fmt.Errorf("keyutil: unsupported certificate type %q", certType)
	}
}

// NonceReader expands an entropy nonce into a deterministic byte stream via
// SHA-256 in counter mode. Used to derive regenerated keys from
// caller-supplied entropy.
type NonceReader struct {
	nonce   []byte
	counter uint64
	buf     []byte
}

// NewNonceReader creates a reader over the given nonce.
func NewNonceReader(nonce []byte) (*NonceReader, error) {
	if len(nonce) < MinNonceLen {
		return nil, ErrNonceTooShort
	}
	return &NonceReader{nonce: nonce}, nil
}

func (r *NonceReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.buf) == 0 {
			h := sha256.New()
			h.Write(r.nonce)
			var ctr [8]byte
			binary.BigEndian.PutUint64(ctr[:], r.counter)
			h.Write(ctr[:])
			r.buf = h.Sum(nil)
			r.counter++
		}
		c := copy(p[n:], r.buf)
		r.buf = r.buf[c:]
		n += c
	}
	return n, nil
}

// CreateSigningRequest produces a DER-encoded PKCS#10 certificate signing
// request for the key, carrying the subject and SANs of the current
// certificate unless an explicit subject is given.
func CreateSigningRequest(signer crypto.Signer, subject pkix.Name, current *x509.Certificate) ([]byte, error) {
	tmpl := &x509.CertificateRequest{Subject: subject}
	if current != nil {
		if subject.String() == "" {
			tmpl.Subject = current.Subject
		}
		tmpl.DNSNames = current.DNSNames
		tmpl.IPAddresses = current.IPAddresses
		tmpl.URIs = current.URIs
	}
	tmpl.SignatureAlgorithm = signatureAlgorithmFor(signer)

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, signer)
	if err != nil {
		return nil, fmt.Errorf("keyutil: failed to create signing request: %w", err)
	}
	return der, nil
}

func signatureAlgorithmFor(signer crypto.Signer) x509.SignatureAlgorithm {
	switch pub := signer.Public().(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		if pub.Curve == elliptic.P384() {
			return x509.ECDSAWithSHA384
		}
		return x509.ECDSAWithSHA256
	case ed25519.PublicKey:
		return x509.PureEd25519
	default:
		return x509.UnknownSignatureAlgorithm
	}
}
