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

package keyutil

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-truststore/internal/testutil"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
)

func TestParsePrivateKeyPEM(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "client")
	require.NoError(t, err)

	// SEC 1 EC block as produced by the test helpers.
	signer, err := ParsePrivateKey(FormatPEM, leaf.KeyPEM, "")
	require.NoError(t, err)
	assert.NoError(t, MatchesCertificate(signer, leaf.Cert))

	// PKCS#8 block.
	der, err := x509.MarshalPKCS8PrivateKey(leaf.Key)
	require.NoError(t, err)
	pkcs8PEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	signer, err = ParsePrivateKey(FormatPEM, pkcs8PEM, "")
	require.NoError(t, err)
	assert.NoError(t, MatchesCertificate(signer, leaf.Cert))
}

func TestParsePrivateKeyErrors(t *testing.T) {
	_, err := ParsePrivateKey("DER", []byte("x"), "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ParsePrivateKey(FormatPEM, []byte("not pem"), "")
	assert.ErrorIs(t, err, ErrKeyInvalid)

	badBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("x")})
	_, err = ParsePrivateKey(FormatPEM, badBlock, "")
	assert.ErrorIs(t, err, ErrKeyInvalid)

	_, err = ParsePrivateKey(FormatPFX, []byte("not pkcs12"), "")
	assert.ErrorIs(t, err, ErrKeyInvalid)
}

func TestMatchesCertificateMismatch(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "client")
	require.NoError(t, err)
	other, err := testutil.GenerateTestClientCert(ca, "other")
	require.NoError(t, err)

	assert.ErrorIs(t, MatchesCertificate(other.Key, leaf.Cert), ErrKeyMismatch)
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		certType certgroup.CertificateType
		check    func(t *testing.T, signer any)
	}{
		{certgroup.CertificateTypeRSAMin, func(t *testing.T, signer any) {
			key, ok := signer.(*rsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, 2048, key.N.BitLen())
		}},
		{certgroup.CertificateTypeECCNistP256, func(t *testing.T, signer any) {
			key, ok := signer.(*ecdsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, "P-256", key.Curve.Params().Name)
		}},
		{certgroup.CertificateTypeECCNistP384, func(t *testing.T, signer any) {
			key, ok := signer.(*ecdsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, "P-384", key.Curve.Params().Name)
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.certType), func(t *testing.T) {
			signer, err := GenerateKey(tt.certType, nil)
			require.NoError(t, err)
			tt.check(t, signer)
		})
	}

	_, err := GenerateKey(certgroup.CertificateType("dsa"), nil)
	assert.Error(t, err)
}

func TestNonceReader(t *testing.T) {
	_, err := NewNonceReader(make([]byte, MinNonceLen-1))
	assert.ErrorIs(t, err, ErrNonceTooShort)

	nonce := bytes.Repeat([]byte{0xAB}, MinNonceLen)
	r1, err := NewNonceReader(nonce)
	require.NoError(t, err)
	r2, err := NewNonceReader(nonce)
	require.NoError(t, err)

	a := make([]byte, 100)
	b := make([]byte, 100)
	_, err = r1.Read(a)
	require.NoError(t, err)
	_, err = r2.Read(b)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// A different nonce yields a different stream.
	r3, err := NewNonceReader(bytes.Repeat([]byte{0xCD}, MinNonceLen))
	require.NoError(t, err)
	c := make([]byte, 100)
	_, err = r3.Read(c)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCreateSigningRequest(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Root")
	require.NoError(t, err)
	leaf, err := testutil.GenerateTestClientCert(ca, "app.example.com")
	require.NoError(t, err)

	// Subject inherited from the current certificate.
	der, err := CreateSigningRequest(leaf.Key, pkix.Name{}, leaf.Cert)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	assert.NoError(t, csr.CheckSignature())
	assert.Equal(t, "app.example.com", csr.Subject.CommonName)

	// Explicit subject override.
	der, err = CreateSigningRequest(leaf.Key, pkix.Name{CommonName: "renamed"}, leaf.Cert)
	require.NoError(t, err)
	csr, err = x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	assert.Equal(t, "renamed", csr.Subject.CommonName)
}
