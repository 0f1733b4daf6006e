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

package endpoint

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-truststore/internal/testutil"
	"github.com/jeremyhahn/go-truststore/pkg/certgroup"
)

func testTLSCert(t *testing.T, ca *testutil.TestCA, commonName string) (tls.Certificate, *testutil.TestCertificate) {
	t.Helper()
	leaf, err := testutil.GenerateTestClientCert(ca, commonName)
	require.NoError(t, err)
	return tls.Certificate{
		Certificate: [][]byte{leaf.Cert.Raw},
		PrivateKey:  leaf.Key,
		Leaf:        leaf.Cert,
	}, leaf
}

func TestManagerSetAndGetCertificate(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Endpoint Root")
	require.NoError(t, err)
	cert, leaf := testTLSCert(t, ca, "endpoint-server")

	m := NewManager(nil)
	require.NoError(t, m.SetCertificate(cert))

	// Test certificates carry P-256 keys.
	assert.Equal(t, []certgroup.CertificateType{certgroup.CertificateTypeECCNistP256}, m.Types())

	active, signer, err := m.Certificate(certgroup.CertificateTypeECCNistP256)
	require.NoError(t, err)
	assert.Equal(t, leaf.Cert.Raw, active.Raw)
	assert.True(t, leaf.Key.PublicKey.Equal(signer.Public()))

	_, _, err = m.Certificate(certgroup.CertificateTypeRSASha256)
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestManagerSetCertificateErrors(t *testing.T) {
	m := NewManager(nil)
	assert.ErrorIs(t, m.SetCertificate(tls.Certificate{}), ErrNoCertificate)

	err := m.SetCertificate(tls.Certificate{Certificate: [][]byte{{0x01, 0x02}}})
	assert.Error(t, err)
}

func TestManagerUpdateCertificate(t *testing.T) {
	ca, err := testutil.GenerateTestCA("Endpoint Root")
	require.NoError(t, err)
	cert, _ := testTLSCert(t, ca, "endpoint-server")

	m := NewManager(nil)
	require.NoError(t, m.SetCertificate(cert))

	replacement, err := testutil.GenerateTestClientCert(ca, "endpoint-server")
	require.NoError(t, err)

	applied, err := m.UpdateCertificate(certgroup.CertificateTypeECCNistP256,
		replacement.Cert.Raw, [][]byte{ca.Cert.Raw}, replacement.Key)
	require.NoError(t, err)
	assert.True(t, applied)

	active, _, err := m.Certificate(certgroup.CertificateTypeECCNistP256)
	require.NoError(t, err)
	assert.Equal(t, replacement.Cert.Raw, active.Raw)

	// No endpoint runs an RSA certificate, so the update has no target.
	applied, err = m.UpdateCertificate(certgroup.CertificateTypeRSASha256,
		replacement.Cert.Raw, nil, replacement.Key)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = m.UpdateCertificate(certgroup.CertificateTypeECCNistP256,
		[]byte("garbage"), nil, replacement.Key)
	assert.Error(t, err)
}

func TestManagerGetCertificateForHandshake(t *testing.T) {
	m := NewManager(nil)

	_, err := m.GetCertificate(nil)
	assert.ErrorIs(t, err, ErrNoCertificate)

	ca, err := testutil.GenerateTestCA("Endpoint Root")
	require.NoError(t, err)
	cert, _ := testTLSCert(t, ca, "endpoint-server")
	require.NoError(t, m.SetCertificate(cert))

	got, err := m.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate, got.Certificate)
}
